package guild

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"hansbot/internal/vault"
)

// Settings is the per-plugin configuration payload. Exactly one concrete type
// exists per Plugin; the interface is sealed so consumers can switch over the
// variants exhaustively.
type Settings interface {
	Plugin() Plugin
	Validate() error
	sealed()
}

// ChatGPTSettings holds the tenant's own OpenAI credentials, sealed at rest.
type ChatGPTSettings struct {
	APIKey vault.Secret `json:"api_key"`
	OrgID  vault.Secret `json:"org_id"`
}

// ThreadsSettings drives automatic thread creation in one channel.
// Enabled is always explicit; callers pick its default before storing.
type ThreadsSettings struct {
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title,omitempty"`
	AutoMessage string `json:"auto_message,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type VerifySettings struct {
	RoleID string `json:"role_id"`
}

// ActivitySettings names the channel receiving member join/leave notices.
type ActivitySettings struct {
	ChannelID string `json:"channel_id"`
}

// StandupSettings schedules a recurring message at Hour on Weekdays.
type StandupSettings struct {
	ChannelID   string   `json:"channel_id"`
	Hour        int      `json:"hour"`
	Weekdays    Weekdays `json:"weekdays"`
	Message     string   `json:"message"`
	MentionRole string   `json:"mention_role,omitempty"`
}

// ModerationSettings names the channel receiving deleted-message logs.
type ModerationSettings struct {
	LogChannelID string `json:"log_channel_id"`
}

func (ChatGPTSettings) Plugin() Plugin    { return PluginChatGPT }
func (ThreadsSettings) Plugin() Plugin    { return PluginThreads }
func (VerifySettings) Plugin() Plugin     { return PluginVerify }
func (ActivitySettings) Plugin() Plugin   { return PluginActivity }
func (StandupSettings) Plugin() Plugin    { return PluginStandup }
func (ModerationSettings) Plugin() Plugin { return PluginModeration }

func (ChatGPTSettings) sealed()    {}
func (ThreadsSettings) sealed()    {}
func (VerifySettings) sealed()     {}
func (ActivitySettings) sealed()   {}
func (StandupSettings) sealed()    {}
func (ModerationSettings) sealed() {}

func (s ChatGPTSettings) Validate() error {
	if s.APIKey.IsZero() {
		return invalid("api_key", "required")
	}
	if s.OrgID.IsZero() {
		return invalid("org_id", "required")
	}
	return nil
}

func (s ThreadsSettings) Validate() error {
	if strings.TrimSpace(s.ChannelID) == "" {
		return invalid("channel_id", "required")
	}
	return nil
}

func (s VerifySettings) Validate() error {
	if strings.TrimSpace(s.RoleID) == "" {
		return invalid("role_id", "required")
	}
	return nil
}

func (s ActivitySettings) Validate() error {
	if strings.TrimSpace(s.ChannelID) == "" {
		return invalid("channel_id", "required")
	}
	return nil
}

func (s StandupSettings) Validate() error {
	if strings.TrimSpace(s.ChannelID) == "" {
		return invalid("channel_id", "required")
	}
	if s.Hour < 0 || s.Hour > 23 {
		return invalid("hour", fmt.Sprintf("%d is outside 0-23", s.Hour))
	}
	if s.Weekdays.IsEmpty() {
		return invalid("weekdays", "at least one day is required")
	}
	if strings.TrimSpace(s.Message) == "" {
		return invalid("message", "required")
	}
	return nil
}

func (s ModerationSettings) Validate() error {
	if strings.TrimSpace(s.LogChannelID) == "" {
		return invalid("log_channel_id", "required")
	}
	return nil
}

// ParseHour parses a 24h hour option such as "9" or "21".
func ParseHour(raw string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalid("hour", fmt.Sprintf("%q is not a number", raw))
	}
	if h < 0 || h > 23 {
		return 0, invalid("hour", fmt.Sprintf("%d is outside 0-23", h))
	}
	return h, nil
}

// emptySettings returns the zero variant for p.
func emptySettings(p Plugin) Settings {
	switch p {
	case PluginChatGPT:
		return ChatGPTSettings{}
	case PluginThreads:
		return ThreadsSettings{}
	case PluginVerify:
		return VerifySettings{}
	case PluginActivity:
		return ActivitySettings{}
	case PluginStandup:
		return StandupSettings{Weekdays: DefaultWeekdays}
	case PluginModeration:
		return ModerationSettings{}
	default:
		panic(fmt.Sprintf("guild: no settings variant for plugin %d", p))
	}
}

func decodeSettings(p Plugin, raw json.RawMessage) (Settings, error) {
	if len(raw) == 0 {
		return emptySettings(p), nil
	}
	switch p {
	case PluginChatGPT:
		return decodeAs[ChatGPTSettings](raw)
	case PluginThreads:
		return decodeAs[ThreadsSettings](raw)
	case PluginVerify:
		return decodeAs[VerifySettings](raw)
	case PluginActivity:
		return decodeAs[ActivitySettings](raw)
	case PluginStandup:
		return decodeAs[StandupSettings](raw)
	case PluginModeration:
		return decodeAs[ModerationSettings](raw)
	default:
		return nil, &UnknownPluginError{Name: p.String()}
	}
}

func decodeAs[T Settings](raw json.RawMessage) (Settings, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s settings: %w", v.Plugin(), err)
	}
	return v, nil
}
