package prefs

import (
	"context"

	"github.com/google/uuid"
)

// SecurityNoticeDismissed is the only preference the wallet page persists.
const SecurityNoticeDismissed = "security_notice_dismissed"

type Store interface {
	SecurityNoticeDismissed(ctx context.Context, accountID uuid.UUID) (bool, error)
	SetSecurityNoticeDismissed(ctx context.Context, accountID uuid.UUID, dismissed bool) error
}
