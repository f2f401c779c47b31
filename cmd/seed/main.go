package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	demoAccountID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func main() {
	env := getEnv("APIW_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: APIW_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "api_wallets")
	user := getEnv("POSTGRES_USER", "apiw")
	password := getEnv("POSTGRES_PASSWORD", "apiw")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedSubaccounts(ctx, pool); err != nil {
		log.Fatalf("seed subaccounts: %v", err)
	}
	fmt.Println("✓ Subaccounts seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nAccounts:")
	fmt.Printf("  demo:   %s\n", demoAccountID)
	fmt.Printf("  trader: %s (subaccounts Main, Trading)\n", traderAccountID)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedSubaccounts(ctx context.Context, pool *pgxpool.Pool) error {
	subaccounts := []struct {
		parent uuid.UUID
		label  string
	}{
		{traderAccountID, "Main"},
		{traderAccountID, "Trading"},
		{demoAccountID, "Main"},
	}

	for _, s := range subaccounts {
		_, err := pool.Exec(ctx, `
			INSERT INTO subaccounts (parent_account_id, label, status)
			VALUES ($1, $2, 'active')
			ON CONFLICT (parent_account_id, label) DO UPDATE SET status = 'active'
		`, s.parent, s.label)
		if err != nil {
			return err
		}
	}
	return nil
}
