package main

import (
	"context"
	"fmt"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/address"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type seedWallet struct {
	id         uuid.UUID
	name       string
	subaccount string
	validUntil *time.Time
	revoked    bool
}

// seedTestData gives the trader account one wallet in each state so the list
// and quota views have something to show.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now().UTC()
	expiry := now.AddDate(0, 0, 30)

	wallets := []seedWallet{
		{id: uuid.MustParse("00000000-0000-0000-0000-000000000401"), name: "TradingBot", subaccount: "Trading", validUntil: &expiry},
		{id: uuid.MustParse("00000000-0000-0000-0000-000000000402")},
		{id: uuid.MustParse("00000000-0000-0000-0000-000000000403"), name: "Retired", revoked: true},
	}

	for i, w := range wallets {
		var existing int
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM api_wallets WHERE id = $1`, w.id).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			continue
		}

		addr, err := address.Generate(address.KeySource{}, func(string) bool { return false })
		if err != nil {
			return fmt.Errorf("generate address: %w", err)
		}

		status := "authorized"
		var revokedAt *time.Time
		if w.revoked {
			status = "revoked"
			revokedAt = &now
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO api_wallets (id, account_id, draft_id, name, address, subaccount, valid_until, status, authorized_at, revoked_at, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, w.id, traderAccountID, uuid.New(), w.name, addr, w.subaccount, w.validUntil, status, now.Add(time.Duration(i)*time.Second), revokedAt, int64(i+1))
		if err != nil {
			return err
		}
	}
	return nil
}
