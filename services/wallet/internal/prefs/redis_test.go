package prefs

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisStoreSecurityNotice(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test:")
	ctx := context.Background()
	accountID := uuid.New()

	dismissed, err := store.SecurityNoticeDismissed(ctx, accountID)
	if err != nil || dismissed {
		t.Fatalf("expected not dismissed by default, got %v %v", dismissed, err)
	}

	if err := store.SetSecurityNoticeDismissed(ctx, accountID, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.HGet("test:"+accountID.String(), SecurityNoticeDismissed); got != "1" {
		t.Fatalf("expected stored flag, got %q", got)
	}
	dismissed, err = store.SecurityNoticeDismissed(ctx, accountID)
	if err != nil || !dismissed {
		t.Fatalf("expected dismissed, got %v %v", dismissed, err)
	}

	other, _ := store.SecurityNoticeDismissed(ctx, uuid.New())
	if other {
		t.Fatalf("preference must be per account")
	}

	if err := store.SetSecurityNoticeDismissed(ctx, accountID, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	dismissed, _ = store.SecurityNoticeDismissed(ctx, accountID)
	if dismissed {
		t.Fatalf("expected cleared preference")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	store := NewRedisStore(client, "")
	if _, err := store.SecurityNoticeDismissed(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	accountID := uuid.New()

	if err := store.SetSecurityNoticeDismissed(ctx, accountID, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if dismissed, _ := store.SecurityNoticeDismissed(ctx, accountID); !dismissed {
		t.Fatalf("expected dismissed")
	}
	_ = store.SetSecurityNoticeDismissed(ctx, accountID, false)
	if dismissed, _ := store.SecurityNoticeDismissed(ctx, accountID); dismissed {
		t.Fatalf("expected cleared")
	}
}
