package storage

import (
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/google/uuid"
)

func toRow(accountID uuid.UUID, w lifecycle.Wallet) WalletRow {
	return WalletRow{
		ID:           w.ID,
		AccountID:    accountID,
		DraftID:      w.DraftID,
		Name:         w.Name,
		Address:      w.Address,
		Subaccount:   w.Subaccount,
		ValidUntil:   w.ValidUntil,
		Status:       string(w.Status),
		AuthorizedAt: w.AuthorizedAt,
		RevokedAt:    w.RevokedAt,
		Sequence:     w.Sequence,
	}
}

func fromRow(r WalletRow) lifecycle.Wallet {
	return lifecycle.Wallet{
		ID:           r.ID,
		DraftID:      r.DraftID,
		Name:         r.Name,
		Address:      r.Address,
		Subaccount:   r.Subaccount,
		ValidUntil:   r.ValidUntil,
		Status:       lifecycle.Status(r.Status),
		AuthorizedAt: r.AuthorizedAt,
		RevokedAt:    r.RevokedAt,
		Sequence:     r.Sequence,
	}
}
