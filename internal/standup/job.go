package standup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hansbot/internal/guild"
	"hansbot/internal/storage"
)

var ErrInvalidJob = errors.New("invalid standup job")

// slotLayout renders a (date, hour) slot, e.g. "2026-10-19T09".
const slotLayout = "2006-01-02T15"

// SlotKey returns the slot t falls in, in t's location.
func SlotKey(t time.Time) string { return t.Format(slotLayout) }

// Job is a registered standup. It is derived from a guild's StandupSettings
// and carries the slot it last fired for.
type Job struct {
	TenantID      string
	ChannelID     string
	Hour          int
	Weekdays      guild.Weekdays
	Message       string
	MentionRole   string
	LastFiredSlot string
}

// JobFromSettings derives the job for a guild's standup settings.
func JobFromSettings(tenantID string, s guild.StandupSettings) Job {
	return Job{
		TenantID:    tenantID,
		ChannelID:   s.ChannelID,
		Hour:        s.Hour,
		Weekdays:    s.Weekdays,
		Message:     s.Message,
		MentionRole: s.MentionRole,
	}
}

func (j Job) key() jobKey { return jobKey{tenantID: j.TenantID, channelID: j.ChannelID} }

// normalize applies the Mon..Fri default and validates the definition.
func (j Job) normalize() (Job, error) {
	j.Weekdays = j.Weekdays.OrDefault()
	switch {
	case strings.TrimSpace(j.TenantID) == "":
		return j, fmt.Errorf("%w: tenant id is required", ErrInvalidJob)
	case strings.TrimSpace(j.ChannelID) == "":
		return j, fmt.Errorf("%w: channel id is required", ErrInvalidJob)
	case j.Hour < 0 || j.Hour > 23:
		return j, fmt.Errorf("%w: hour %d is outside 0-23", ErrInvalidJob, j.Hour)
	case strings.TrimSpace(j.Message) == "":
		return j, fmt.Errorf("%w: message is required", ErrInvalidJob)
	}
	return j, nil
}

// due reports whether the job matches the weekday and hour of now.
func (j Job) due(now time.Time) bool {
	return j.Hour == now.Hour() && j.Weekdays.Has(now.Weekday())
}

type jobKey struct {
	tenantID  string
	channelID string
}

func (j Job) record() storage.JobRecord {
	return storage.JobRecord{
		TenantID:      j.TenantID,
		ChannelID:     j.ChannelID,
		Hour:          j.Hour,
		Weekdays:      uint8(j.Weekdays),
		Message:       j.Message,
		MentionRole:   j.MentionRole,
		LastFiredSlot: j.LastFiredSlot,
	}
}

func jobFromRecord(r storage.JobRecord) Job {
	return Job{
		TenantID:      r.TenantID,
		ChannelID:     r.ChannelID,
		Hour:          r.Hour,
		Weekdays:      guild.Weekdays(r.Weekdays),
		Message:       r.Message,
		MentionRole:   r.MentionRole,
		LastFiredSlot: r.LastFiredSlot,
	}
}
