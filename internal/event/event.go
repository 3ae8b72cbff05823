// Package event provides the in-process publish/subscribe bus modules use to
// notify each other. Subscribers run in descending priority order, ties
// broken by registration order, and one subscriber's failure never stops
// the others.
package event

import (
	"context"
	"time"
)

// Wildcard subscribes to every event name.
const Wildcard = "*"

// Event is one published notification.
type Event struct {
	Name string
	Data map[string]any

	// Source is the module that published the event, empty for the core.
	Source string
	Time   time.Time
}

// ChatID returns the chat the event concerns, read from Data["chat_id"].
func (e Event) ChatID() (int64, bool) {
	switch v := e.Data["chat_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Handler reacts to an event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, ev Event) error

// Filter decides whether a subscriber sees an event.
type Filter func(ev Event) bool

// Subscription is a registered handler. It is immutable once registered.
type Subscription struct {
	ID       string
	Event    string
	Priority int
	Owner    string

	handler Handler
	filter  Filter
	seq     uint64
}

func (s *Subscription) listensTo(name string) bool {
	return s.Event == Wildcard || s.Event == name
}

// Option customizes a subscription.
type Option func(*Subscription)

// WithPriority sets the priority. Higher runs first. Default 0.
func WithPriority(p int) Option {
	return func(s *Subscription) { s.Priority = p }
}

// WithFilter only delivers events for which f returns true. Filters
// combine: every one given must pass.
func WithFilter(f Filter) Option {
	return func(s *Subscription) {
		if prev := s.filter; prev != nil {
			s.filter = func(ev Event) bool { return prev(ev) && f(ev) }
			return
		}
		s.filter = f
	}
}

// WithOwner tags the subscription with the module that registered it, so
// the module's subscriptions can be removed in bulk.
func WithOwner(module string) Option {
	return func(s *Subscription) { s.Owner = module }
}
