package domain

import "time"

// ============================================================
// Session — per-user conversation in progress
// ============================================================

// SessionState tags what the stored session is waiting for.
type SessionState string

const (
	StateOnboardingBrandName  SessionState = "ONBOARDING_BRAND_NAME"
	StateOnboardingBrandColor SessionState = "ONBOARDING_BRAND_COLOR"
	StateCollecting           SessionState = "COLLECTING"
)

// IsOnboarding reports whether the state belongs to account setup.
func (s SessionState) IsOnboarding() bool {
	return s == StateOnboardingBrandName || s == StateOnboardingBrandColor
}

// Session is at most one per user, keyed by UserID.
type Session struct {
	UserID    string       `json:"userId"`
	State     SessionState `json:"state"`
	Payload   Payload      `json:"payload"`
	BrandName string       `json:"brandName,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Phase is the controller-level view of where a user is in the conversation.
type Phase string

const (
	PhaseNew        Phase = "NEW"
	PhaseOnboarding Phase = "ONBOARDING"
	PhaseIdle       Phase = "IDLE"
	PhaseCollecting Phase = "COLLECTING"
)

// PhaseOf derives the phase from what the store returned. Either argument may be nil.
func PhaseOf(acc *Account, sess *Session) Phase {
	switch {
	case acc == nil && sess == nil:
		return PhaseNew
	case acc == nil:
		return PhaseOnboarding
	case sess != nil && sess.State == StateCollecting:
		return PhaseCollecting
	default:
		return PhaseIdle
	}
}
