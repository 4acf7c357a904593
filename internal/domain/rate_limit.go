package domain

import (
	"fmt"
	"time"
)

// RateLimitRule - лимит действий одного субъекта в скользящем окне.
type RateLimitRule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

const (
	RateLimitScopeSend = "send"
	RateLimitScopeIP   = "ip"
)

func (r RateLimitRule) Key(subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.Scope, subject)
}

func (r RateLimitRule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}
