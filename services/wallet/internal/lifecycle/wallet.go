package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusAuthorized Status = "authorized"
	StatusRevoked    Status = "revoked"
)

const (
	UnnamedLabel     = "Unnamed"
	NoExpiryLabel    = "—"
	MaxNameLength    = 64
	validUntilLayout = "2006-01-02"
)

// Wallet is an API wallet in any lifecycle state. ID is assigned on
// authorization; DraftID identifies the generation it came from.
type Wallet struct {
	ID           uuid.UUID
	DraftID      uuid.UUID
	Name         string
	Address      string
	Subaccount   string
	ValidUntil   *time.Time
	Status       Status
	AuthorizedAt time.Time
	RevokedAt    *time.Time
	Sequence     int64
}

func (w Wallet) Named() bool {
	return w.Name != ""
}

func (w Wallet) DisplayName() string {
	if w.Name == "" {
		return UnnamedLabel
	}
	return w.Name
}

func (w Wallet) ValidUntilLabel() string {
	if w.ValidUntil == nil {
		return NoExpiryLabel
	}
	return w.ValidUntil.UTC().Format(validUntilLayout)
}

func (w Wallet) clone() Wallet {
	out := w
	if w.ValidUntil != nil {
		v := *w.ValidUntil
		out.ValidUntil = &v
	}
	if w.RevokedAt != nil {
		v := *w.RevokedAt
		out.RevokedAt = &v
	}
	return out
}

// Step is the onboarding indicator shown above the form.
type Step int

const (
	StepGenerate  Step = 1
	StepAuthorize Step = 2
	StepSaveKey   Step = 3
)

func (s Step) String() string {
	switch s {
	case StepGenerate:
		return "generate"
	case StepAuthorize:
		return "authorize"
	case StepSaveKey:
		return "save_key"
	default:
		return "unknown"
	}
}
