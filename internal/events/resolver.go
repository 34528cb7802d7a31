package events

import (
	"context"
	"fmt"
	"slices"
	"time"

	logx "hansbot/pkg/logx"

	"golang.org/x/sync/errgroup"
)

// DefaultFetchConcurrency bounds parallel subscriber fetches per Resolve call.
const DefaultFetchConcurrency = 4

// Event is a guild scheduled event as reported by the chat platform.
type Event struct {
	ID          string
	Name        string
	Description string
	Location    string
	Start       time.Time
	// End is zero when the platform reports no end time.
	End       time.Time
	Active    bool
	UserCount int
}

func (e Event) span() (time.Time, time.Time) {
	end := e.End
	if end.IsZero() || !end.After(e.Start) {
		end = e.Start.Add(defaultDuration)
	}
	return e.Start, end
}

// skippable reports whether fetching subscribers can be avoided: an inactive
// event with no participants cannot contain the user.
func (e Event) skippable() bool { return !e.Active && e.UserCount <= 0 }

// SubscriberFetcher lists the user IDs subscribed to an event.
type SubscriberFetcher interface {
	Subscribers(ctx context.Context, tenantID, eventID string) ([]string, error)
}

type SubscriberFetcherFunc func(ctx context.Context, tenantID, eventID string) ([]string, error)

func (f SubscriberFetcherFunc) Subscribers(ctx context.Context, tenantID, eventID string) ([]string, error) {
	return f(ctx, tenantID, eventID)
}

// Subscribed is an event the user is subscribed to, with its import links.
type Subscribed struct {
	Event Event
	Links Links
}

type Resolver struct {
	fetch       SubscriberFetcher
	concurrency int
	log         logx.Logger
}

func NewResolver(fetch SubscriberFetcher, concurrency int, log logx.Logger) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{fetch: fetch, concurrency: concurrency, log: log}
}

// Resolve returns the events userID is subscribed to, in input order. Any
// subscriber fetch failure fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, events []Event, userID string) ([]Subscribed, error) {
	keep := make([]bool, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, e := range events {
		if e.skippable() {
			continue
		}
		g.Go(func() error {
			subs, err := r.fetch.Subscribers(gctx, tenantID, e.ID)
			if err != nil {
				return fmt.Errorf("events: subscribers of %s: %w", e.ID, err)
			}
			keep[i] = slices.Contains(subs, userID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("resolve failed", logx.String("tenant", tenantID), logx.Err(err))
		return nil, err
	}

	out := make([]Subscribed, 0, len(events))
	for i, e := range events {
		if keep[i] {
			out = append(out, Subscribed{Event: e, Links: LinksFor(e)})
		}
	}
	r.log.Debug("events resolved",
		logx.String("tenant", tenantID),
		logx.String("user", userID),
		logx.Int("events", len(events)),
		logx.Int("subscribed", len(out)),
	)
	return out, nil
}
