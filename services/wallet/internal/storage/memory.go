package storage

import (
	"context"
	"sync"

	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/google/uuid"
)

// Memory keeps wallets for the lifetime of the process only. It is the
// session-only store used when no database is configured.
type Memory struct {
	mu          sync.RWMutex
	wallets     map[uuid.UUID][]WalletRow
	subaccounts map[uuid.UUID][]string
	audit       []AuditLog
}

func NewMemory() *Memory {
	return &Memory{
		wallets:     map[uuid.UUID][]WalletRow{},
		subaccounts: map[uuid.UUID][]string{},
	}
}

func (m *Memory) LoadWallets(_ context.Context, accountID uuid.UUID) ([]lifecycle.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.wallets[accountID]
	out := make([]lifecycle.Wallet, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (m *Memory) SaveWallets(_ context.Context, accountID uuid.UUID, wallets []lifecycle.Wallet) error {
	rows := make([]WalletRow, 0, len(wallets))
	for _, w := range wallets {
		rows = append(rows, toRow(accountID, w))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[accountID] = rows
	return nil
}

func (m *Memory) ListSubaccounts(_ context.Context, accountID uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.subaccounts[accountID]...), nil
}

// SetSubaccounts seeds the subaccount labels returned for accountID.
func (m *Memory) SetSubaccounts(accountID uuid.UUID, labels []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subaccounts[accountID] = append([]string(nil), labels...)
}

func (m *Memory) InsertAudit(_ context.Context, log AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, log)
	return nil
}

func (m *Memory) AuditLogs() []AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditLog(nil), m.audit...)
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
