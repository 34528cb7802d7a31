package guild

import (
	"encoding/json"
	"strings"
	"time"
)

// Weekdays is a set of days; bit i stands for time.Weekday(i).
type Weekdays uint8

const (
	AllWeekdays     Weekdays = 0b1111111
	DefaultWeekdays Weekdays = 0b0111110 // Mon..Fri
)

var weekdayShort = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool { return w&(1<<uint(d)) != 0 }

func (w Weekdays) IsEmpty() bool { return w&AllWeekdays == 0 }

// OrDefault returns Mon..Fri for an empty set.
func (w Weekdays) OrDefault() Weekdays {
	if w.IsEmpty() {
		return DefaultWeekdays
	}
	return w & AllWeekdays
}

func (w Weekdays) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (w Weekdays) String() string {
	names := make([]string, 0, 7)
	for _, d := range w.Days() {
		names = append(names, weekdayShort[d])
	}
	return strings.Join(names, ",")
}

// ParseWeekdays accepts a comma or space separated list of day names
// ("mon,wed,fri", "Monday Tuesday") and the shorthands "weekdays", "weekend"
// and "all". An empty string yields the default Mon..Fri.
func ParseWeekdays(raw string) (Weekdays, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultWeekdays, nil
	}
	var w Weekdays
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		switch tok {
		case "weekdays":
			w |= DefaultWeekdays
			continue
		case "weekend":
			w |= NewWeekdays(time.Saturday, time.Sunday)
			continue
		case "all", "daily":
			w |= AllWeekdays
			continue
		}
		d, ok := parseDay(tok)
		if !ok {
			return 0, invalid("weekdays", "unknown day "+tok)
		}
		w |= NewWeekdays(d)
	}
	if w.IsEmpty() {
		return 0, invalid("weekdays", "at least one day is required")
	}
	return w, nil
}

func parseDay(tok string) (time.Weekday, bool) {
	if len(tok) < 3 {
		return 0, false
	}
	for i, short := range weekdayShort {
		full := strings.ToLower(time.Weekday(i).String())
		if tok == short || strings.HasPrefix(full, tok) {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, d := range w.Days() {
		names = append(names, weekdayShort[d])
	}
	return json.Marshal(names)
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out Weekdays
	for _, n := range names {
		d, ok := parseDay(strings.ToLower(n))
		if !ok {
			return invalid("weekdays", "unknown day "+n)
		}
		out |= NewWeekdays(d)
	}
	*w = out
	return nil
}
