// Package security holds the bot's protective plumbing: secret redaction for
// logs, a per-user command rate limiter and the admin audit log.
package security

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// RedactPlaceholder replaces every secret found in log output.
const RedactPlaceholder = "***REDACTED***"

// Bot API tokens look like "<bot id>:<secret>". Chat and user ids never
// contain a colon followed by thirty characters, so they pass untouched.
var (
	tokenPattern   = regexp.MustCompile(`\b[0-9]{6,12}:[A-Za-z0-9_-]{30,}`)
	apiPathPattern = regexp.MustCompile(`/bot[0-9]{6,12}:[A-Za-z0-9_-]+`)
)

// Redactor scrubs bot tokens from strings. Besides the token shapes it knows,
// it masks the exact secrets from the running configuration, which a reload
// may swap at any time. Safe for concurrent use.
type Redactor struct {
	secrets atomic.Pointer[[]string]
}

// NewRedactor returns a Redactor with no configured secrets yet.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// SetLiterals replaces the configured secrets. Empty values are skipped.
func (r *Redactor) SetLiterals(secrets ...string) {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			kept = append(kept, s)
		}
	}
	r.secrets.Store(&kept)
}

// Redact returns s with every known secret replaced by RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	if lits := r.secrets.Load(); lits != nil {
		for _, lit := range *lits {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	s = apiPathPattern.ReplaceAllString(s, "/bot"+RedactPlaceholder)
	return tokenPattern.ReplaceAllString(s, RedactPlaceholder)
}
