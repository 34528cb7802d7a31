package guild

import "strings"

// Plugin identifies a toggleable guild feature. The set is closed: adding a
// plugin means adding a constant here, a name below and a Settings variant.
type Plugin uint8

const (
	PluginChatGPT Plugin = iota + 1
	PluginThreads
	PluginVerify
	PluginActivity
	PluginStandup
	PluginModeration
)

var pluginNames = [...]string{
	PluginChatGPT:    "chatgpt",
	PluginThreads:    "threads",
	PluginVerify:     "verify",
	PluginActivity:   "activity",
	PluginStandup:    "standup",
	PluginModeration: "moderation",
}

// Plugins lists every registered plugin in declaration order.
func Plugins() []Plugin {
	out := make([]Plugin, 0, len(pluginNames)-1)
	for p := PluginChatGPT; int(p) < len(pluginNames); p++ {
		out = append(out, p)
	}
	return out
}

func (p Plugin) Valid() bool { return p >= PluginChatGPT && int(p) < len(pluginNames) }

func (p Plugin) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return pluginNames[p]
}

// ParsePlugin maps a command option value to a Plugin.
func ParsePlugin(name string) (Plugin, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, p := range Plugins() {
		if pluginNames[p] == n {
			return p, nil
		}
	}
	return 0, &UnknownPluginError{Name: name}
}

// Event is a runtime occurrence reported by the chat client.
type Event string

const (
	EventMessageCreate     Event = "messageCreate"
	EventMessageDelete     Event = "messageDelete"
	EventGuildMemberAdd    Event = "guildMemberAdd"
	EventGuildMemberRemove Event = "guildMemberRemove"
	EventMemberVerify      Event = "memberVerify"
	EventChatCompletion    Event = "chatCompletion"
)

// eventPlugins is the static event -> governing plugin table.
var eventPlugins = map[Event]Plugin{
	EventMessageCreate:     PluginThreads,
	EventMessageDelete:     PluginModeration,
	EventGuildMemberAdd:    PluginActivity,
	EventGuildMemberRemove: PluginActivity,
	EventMemberVerify:      PluginVerify,
	EventChatCompletion:    PluginChatGPT,
}

// PluginForEvent returns the plugin that governs the named event.
func PluginForEvent(name string) (Plugin, error) {
	p, ok := eventPlugins[Event(strings.TrimSpace(name))]
	if !ok {
		return 0, &UnknownEventError{Name: name}
	}
	return p, nil
}
