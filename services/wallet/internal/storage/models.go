package storage

import (
	"time"

	"github.com/google/uuid"
)

// WalletRow mirrors the api_wallets table.
type WalletRow struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	DraftID      uuid.UUID
	Name         string
	Address      string
	Subaccount   string
	ValidUntil   *time.Time
	Status       string
	AuthorizedAt time.Time
	RevokedAt    *time.Time
	Sequence     int64
}

// AuditLog captures a wallet action.
type AuditLog struct {
	ActorID    uuid.UUID
	ActorType  string
	Action     string
	EntityType string
	EntityID   *uuid.UUID
	IP         string
	UserAgent  string
}
