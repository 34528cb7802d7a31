package events

import (
	"net/url"
	"time"
)

const (
	googleBase  = "https://calendar.google.com/calendar/render"
	outlookBase = "https://outlook.live.com/calendar/0/deeplink/compose"

	googleStamp = "20060102T150405Z"

	// defaultDuration is used for events without an end time.
	defaultDuration = time.Hour
)

// Links holds the import links of one event.
type Links struct {
	Google  string
	Outlook string
}

// LinksFor builds both calendar links for e.
func LinksFor(e Event) Links {
	return Links{Google: GoogleLink(e), Outlook: OutlookLink(e)}
}

// GoogleLink returns a Google Calendar "add event" URL for e.
func GoogleLink(e Event) string {
	start, end := e.span()
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", e.Name)
	q.Set("dates", start.UTC().Format(googleStamp)+"/"+end.UTC().Format(googleStamp))
	if e.Description != "" {
		q.Set("details", e.Description)
	}
	if e.Location != "" {
		q.Set("location", e.Location)
	}
	return googleBase + "?" + q.Encode()
}

// OutlookLink returns an Outlook.com compose deeplink for e.
func OutlookLink(e Event) string {
	start, end := e.span()
	q := url.Values{}
	q.Set("path", "/calendar/action/compose")
	q.Set("rru", "addevent")
	q.Set("subject", e.Name)
	q.Set("startdt", start.UTC().Format(time.RFC3339))
	q.Set("enddt", end.UTC().Format(time.RFC3339))
	if e.Description != "" {
		q.Set("body", e.Description)
	}
	if e.Location != "" {
		q.Set("location", e.Location)
	}
	return outlookBase + "?" + q.Encode()
}
