package chatclient

import "time"

// RateState is the client-side pacing state carried between turns.
type RateState struct {
	LastRequestTime time.Time
	CooldownUntil   time.Time
}

type PacingPolicy struct {
	// MinInterval is the shortest gap allowed between two send attempts.
	MinInterval time.Duration
	// AdvisoryWait is what the user is told to wait after sending too fast.
	AdvisoryWait time.Duration
}

func DefaultPacingPolicy() PacingPolicy {
	return PacingPolicy{
		MinInterval:  3000 * time.Millisecond,
		AdvisoryWait: 2000 * time.Millisecond,
	}
}

// Decision is the outcome of a pacing check.
type Decision struct {
	Allowed bool
	// Wait is the recorded advisory for the refusal.
	Wait time.Duration
	// RetryIn is how long until an attempt would actually be allowed.
	RetryIn time.Duration
	// Cooldown is set when the refusal comes from a server-imposed rate limit.
	Cooldown bool
}

// Pace decides whether a send attempt at now may go out. It never mutates
// state; the returned RateState replaces it.
//
// A refused attempt inside MinInterval still moves LastRequestTime, so
// repeated rapid attempts keep pushing the window forward. A refusal during
// a cooldown leaves the state untouched. RetryIn counts from now, so a user
// who waits that long is not refused again.
func Pace(state RateState, now time.Time, policy PacingPolicy) (Decision, RateState) {
	if now.Before(state.CooldownUntil) {
		wait := state.CooldownUntil.Sub(now)
		return Decision{Wait: wait, RetryIn: wait, Cooldown: true}, state
	}

	if !state.LastRequestTime.IsZero() && now.Sub(state.LastRequestTime) < policy.MinInterval {
		state.LastRequestTime = now
		return Decision{Wait: policy.AdvisoryWait, RetryIn: policy.MinInterval}, state
	}

	state.LastRequestTime = now
	return Decision{Allowed: true}, state
}
