package dispatch

import (
	"time"

	"github.com/flemzord/modbot/internal/core"
)

// Outcome is how a dispatched command or callback ended.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeError       Outcome = "error"
	OutcomeDenied      Outcome = "denied"
	OutcomeGroupDenied Outcome = "group_denied"
	OutcomeWrongChat   Outcome = "wrong_chat"
	OutcomeDisabled    Outcome = "disabled"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Kinds of invocation.
const (
	KindCommand  = "command"
	KindCallback = "callback"
)

// Invocation describes one routed command or callback.
type Invocation struct {
	Kind     string
	Name     string
	Module   string
	UserID   int64
	ChatID   int64
	ChatType core.ChatType
	Outcome  Outcome
	Start    time.Time
	Duration time.Duration
}

// Observer receives every invocation once it has finished. Observers run on
// the update goroutine and must not block.
type Observer interface {
	Observe(Invocation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Invocation)

// Observe calls f.
func (f ObserverFunc) Observe(inv Invocation) { f(inv) }
