package service

import (
	"context"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/kafka"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/google/uuid"
)

const (
	eventWalletAuthorized = "api_wallets.authorized"
	eventWalletRevoked    = "api_wallets.revoked"
)

type Topics struct {
	WalletsAuthorized string
	WalletsRevoked    string
}

type WalletAuthorizedEvent struct {
	kafka.Envelope
	WalletID     string `json:"wallet_id"`
	AccountID    string `json:"account_id"`
	Name         string `json:"name,omitempty"`
	Address      string `json:"address"`
	Subaccount   string `json:"subaccount,omitempty"`
	ValidUntil   string `json:"valid_until,omitempty"`
	AuthorizedAt string `json:"authorized_at"`
}

type WalletRevokedEvent struct {
	kafka.Envelope
	WalletID  string `json:"wallet_id"`
	AccountID string `json:"account_id"`
	Address   string `json:"address"`
	RevokedAt string `json:"revoked_at"`
}

func (s *WalletService) publishAuthorized(ctx context.Context, correlationID string, accountID uuid.UUID, w lifecycle.Wallet) {
	if s.producer == nil || s.topics.WalletsAuthorized == "" {
		return
	}
	eventID := kafka.DeterministicEventID(eventWalletAuthorized, w.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, eventWalletAuthorized, 1, correlationID)
	if err != nil {
		s.logger.Error("build wallet authorized envelope failed", "error", err)
		return
	}
	payload := WalletAuthorizedEvent{
		Envelope:     env,
		WalletID:     w.ID.String(),
		AccountID:    accountID.String(),
		Name:         w.Name,
		Address:      w.Address,
		Subaccount:   w.Subaccount,
		AuthorizedAt: w.AuthorizedAt.UTC().Format(time.RFC3339),
	}
	if w.ValidUntil != nil {
		payload.ValidUntil = w.ValidUntil.UTC().Format(time.RFC3339)
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.WalletsAuthorized, accountID.String(), payload); err != nil {
		s.logger.Error("publish wallet authorized failed", "wallet_id", w.ID, "error", err)
	}
}

func (s *WalletService) publishRevoked(ctx context.Context, correlationID string, accountID uuid.UUID, w lifecycle.Wallet) {
	if s.producer == nil || s.topics.WalletsRevoked == "" {
		return
	}
	eventID := kafka.DeterministicEventID(eventWalletRevoked, w.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, eventWalletRevoked, 1, correlationID)
	if err != nil {
		s.logger.Error("build wallet revoked envelope failed", "error", err)
		return
	}
	payload := WalletRevokedEvent{
		Envelope:  env,
		WalletID:  w.ID.String(),
		AccountID: accountID.String(),
		Address:   w.Address,
	}
	if w.RevokedAt != nil {
		payload.RevokedAt = w.RevokedAt.UTC().Format(time.RFC3339)
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.WalletsRevoked, accountID.String(), payload); err != nil {
		s.logger.Error("publish wallet revoked failed", "wallet_id", w.ID, "error", err)
	}
}
