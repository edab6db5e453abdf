// Package engine holds the pure reconciliation logic for entitlement records.
//
// Nothing in this package performs I/O, reads the wall clock or keeps state:
// every function takes the persisted record, the incoming signal and the
// current instant explicitly and returns a decision for the caller to apply.
package engine

import "time"

const (
	DefaultFallbackDuration = 30 * 24 * time.Hour
	DefaultPollCooldown     = 6 * time.Hour
)

// Policy carries the tunables of the reconciliation engine.
type Policy struct {
	// FallbackDuration is the last-resort expiry horizon used when a snapshot
	// carries neither dates nor a billing interval.
	FallbackDuration time.Duration
	// PollCooldown bounds how often a provider poll may run for one user.
	PollCooldown time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FallbackDuration: DefaultFallbackDuration,
		PollCooldown:     DefaultPollCooldown,
	}
}

func (p Policy) withDefaults() Policy {
	if p.FallbackDuration <= 0 {
		p.FallbackDuration = DefaultFallbackDuration
	}
	if p.PollCooldown <= 0 {
		p.PollCooldown = DefaultPollCooldown
	}
	return p
}
