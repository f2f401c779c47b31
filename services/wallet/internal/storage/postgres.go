package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) LoadWallets(ctx context.Context, accountID uuid.UUID) ([]lifecycle.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, draft_id, name, address, subaccount, valid_until, status, authorized_at, revoked_at, seq
		FROM api_wallets
		WHERE account_id = $1
		ORDER BY seq
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []lifecycle.Wallet
	for rows.Next() {
		var r WalletRow
		if err := rows.Scan(&r.ID, &r.AccountID, &r.DraftID, &r.Name, &r.Address, &r.Subaccount, &r.ValidUntil, &r.Status, &r.AuthorizedAt, &r.RevokedAt, &r.Sequence); err != nil {
			return nil, err
		}
		wallets = append(wallets, fromRow(r))
	}
	return wallets, rows.Err()
}

// SaveWallets writes the full committed collection for an account in one
// transaction. Rows are only ever inserted or moved to revoked.
func (s *Store) SaveWallets(ctx context.Context, accountID uuid.UUID, wallets []lifecycle.Wallet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, w := range saveOrder(wallets) {
		r := toRow(accountID, w)
		batch.Queue(`
			INSERT INTO api_wallets (id, account_id, draft_id, name, address, subaccount, valid_until, status, authorized_at, revoked_at, seq, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
			ON CONFLICT (id) DO UPDATE
			SET status = EXCLUDED.status, revoked_at = EXCLUDED.revoked_at, updated_at = now()
			WHERE api_wallets.status <> EXCLUDED.status
		`, r.ID, r.AccountID, r.DraftID, r.Name, r.Address, r.Subaccount, r.ValidUntil, r.Status, r.AuthorizedAt, r.RevokedAt, r.Sequence)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert wallets: %w", err)
	}
	return tx.Commit(ctx)
}

// ListSubaccounts returns the labels of the account's open subaccounts.
func (s *Store) ListSubaccounts(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT label
		FROM subaccounts
		WHERE parent_account_id = $1 AND status = 'active'
		ORDER BY label
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (s *Store) InsertAudit(ctx context.Context, log AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, actor_type, action, entity_type, entity_id, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
	`, log.ActorID, log.ActorType, log.Action, log.EntityType, log.EntityID, map[string]string{
		"ip":         log.IP,
		"user_agent": log.UserAgent,
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// saveOrder puts revoked wallets first so that a revocation frees its
// address under api_wallets_active_address before any wallet reusing that
// address is inserted in the same batch.
func saveOrder(wallets []lifecycle.Wallet) []lifecycle.Wallet {
	out := make([]lifecycle.Wallet, len(wallets))
	copy(out, wallets)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status == lifecycle.StatusRevoked && out[j].Status != lifecycle.StatusRevoked
	})
	return out
}
