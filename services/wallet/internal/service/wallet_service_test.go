package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStore struct {
	mu          sync.Mutex
	wallets     map[uuid.UUID][]lifecycle.Wallet
	subaccounts map[uuid.UUID][]string
	saveErr     error
	loadErr     error
	loads       int
	saves       int
	audits      []storage.AuditLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:     map[uuid.UUID][]lifecycle.Wallet{},
		subaccounts: map[uuid.UUID][]string{},
	}
}

func (f *fakeStore) LoadWallets(ctx context.Context, accountID uuid.UUID) ([]lifecycle.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.wallets[accountID], nil
}

func (f *fakeStore) SaveWallets(ctx context.Context, accountID uuid.UUID, wallets []lifecycle.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.wallets[accountID] = wallets
	return nil
}

func (f *fakeStore) ListSubaccounts(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subaccounts[accountID], nil
}

func (f *fakeStore) InsertAudit(ctx context.Context, log storage.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, log)
	return nil
}

type recordProducer struct {
	mu        sync.Mutex
	published []string
	values    []any
	err       error
}

func (r *recordProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, topic)
	r.values = append(r.values, value)
	return 0, 0, r.err
}

func (r *recordProducer) Close() error { return nil }

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testTopics = Topics{WalletsAuthorized: "api_wallets.authorized", WalletsRevoked: "api_wallets.revoked"}

func newTestService(store WalletStore, producer *recordProducer) (*WalletService, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewWalletService(store, producer, nil, metrics, testTopics, Config{
		Limits: lifecycle.DefaultLimits(),
		Clock:  fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	return svc, metrics
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestAuthorizePersistsAndPublishes(t *testing.T) {
	store := newFakeStore()
	producer := &recordProducer{}
	svc, _ := newTestService(store, producer)
	ctx := context.Background()
	accountID := uuid.New()

	draft, err := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID, Name: strPtr(" TradingBot ")})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	res, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID, ValidForDays: intPtr(30), IP: "127.0.0.1"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !res.Persisted || res.Existing {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Wallet.Name != "TradingBot" || res.Wallet.ValidUntilLabel() != "2026-03-31" {
		t.Fatalf("unexpected wallet %+v", res.Wallet)
	}
	if len(store.wallets[accountID]) != 1 {
		t.Fatalf("expected wallet to be saved")
	}
	if len(producer.published) != 1 || producer.published[0] != testTopics.WalletsAuthorized {
		t.Fatalf("expected authorized event, got %v", producer.published)
	}
	event, ok := producer.values[0].(WalletAuthorizedEvent)
	if !ok {
		t.Fatalf("expected WalletAuthorizedEvent, got %T", producer.values[0])
	}
	if event.WalletID != res.Wallet.ID.String() || event.EventType != eventWalletAuthorized {
		t.Fatalf("unexpected event %+v", event)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "api_wallets.authorize" || store.audits[0].IP != "127.0.0.1" {
		t.Fatalf("unexpected audit %+v", store.audits)
	}

	q, err := svc.Quota(ctx, accountID)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.Named.Used != 1 || q.Named.Limit != 3 {
		t.Fatalf("expected named 1/3, got %+v", q.Named)
	}
}

func TestAuthorizeTwiceReturnsExisting(t *testing.T) {
	store := newFakeStore()
	producer := &recordProducer{}
	svc, _ := newTestService(store, producer)
	ctx := context.Background()
	accountID := uuid.New()

	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	first, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	second, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID})
	if err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if !second.Existing || second.Wallet.ID != first.Wallet.ID {
		t.Fatalf("expected existing wallet, got %+v", second)
	}
	if store.saves != 1 || len(producer.published) != 1 {
		t.Fatalf("second authorize must not save or publish again")
	}
}

func TestPersistFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("db down")
	svc, metrics := newTestService(store, &recordProducer{})
	ctx := context.Background()
	accountID := uuid.New()

	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	res, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID})
	if err != nil {
		t.Fatalf("authorize must succeed when the save fails: %v", err)
	}
	if res.Persisted {
		t.Fatalf("expected persisted=false")
	}
	if got := testutil.ToFloat64(metrics.PersistFailures); got != 1 {
		t.Fatalf("expected 1 persist failure, got %v", got)
	}

	overview, err := svc.Overview(ctx, accountID)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(overview.Wallets) != 1 || overview.Empty {
		t.Fatalf("in-memory state must stay authoritative")
	}

	rev, err := svc.Revoke(ctx, RevokeInput{AccountID: accountID, WalletID: res.Wallet.ID})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rev.Persisted || rev.Wallet.Status != lifecycle.StatusRevoked {
		t.Fatalf("unexpected revoke result %+v", rev)
	}
}

func TestPublishFailureIsNonFatal(t *testing.T) {
	producer := &recordProducer{err: errors.New("broker down")}
	svc, _ := newTestService(newFakeStore(), producer)
	ctx := context.Background()
	accountID := uuid.New()

	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	if _, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID}); err != nil {
		t.Fatalf("authorize must not fail on publish errors: %v", err)
	}
}

func TestQuotaExceededThroughService(t *testing.T) {
	svc, metrics := newTestService(newFakeStore(), &recordProducer{})
	ctx := context.Background()
	accountID := uuid.New()

	var failures int
	for i := 0; i < 4; i++ {
		draft, err := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if _, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID}); err != nil {
			if !errors.Is(err, lifecycle.ErrQuotaExceeded) {
				t.Fatalf("unexpected error: %v", err)
			}
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("expected 3 quota failures, got %d", failures)
	}
	if got := testutil.ToFloat64(metrics.Operations.WithLabelValues("authorize", statusRejected)); got != 3 {
		t.Fatalf("expected 3 rejected authorizations, got %v", got)
	}
	overview, _ := svc.Overview(ctx, accountID)
	if len(overview.Wallets) != 1 {
		t.Fatalf("expected 1 wallet, got %d", len(overview.Wallets))
	}
}

func TestAuthorizeValidation(t *testing.T) {
	svc, _ := newTestService(newFakeStore(), &recordProducer{})
	ctx := context.Background()
	accountID := uuid.New()

	var verr *lifecycle.ValidationError
	if _, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID}); !errors.As(err, &verr) || verr.Field != "draft_id" {
		t.Fatalf("expected draft_id validation error, got %v", err)
	}
	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	if _, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID, ValidForDays: intPtr(-1)}); !errors.As(err, &verr) || verr.Field != "valid_for_days" {
		t.Fatalf("expected valid_for_days validation error, got %v", err)
	}
	if _, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: uuid.New()}); !errors.Is(err, lifecycle.ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft for unknown draft, got %v", err)
	}

	res, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID, ValidForDays: intPtr(0)})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.Wallet.ValidUntil != nil {
		t.Fatalf("zero days means no expiry")
	}
}

func TestDefaultValidity(t *testing.T) {
	store := newFakeStore()
	svc := NewWalletService(store, nil, nil, nil, Topics{}, Config{
		Limits:          lifecycle.DefaultLimits(),
		DefaultValidity: 30 * 24 * time.Hour,
		Clock:           fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	ctx := context.Background()
	accountID := uuid.New()

	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	res, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.Wallet.ValidUntilLabel() != "2026-03-31" {
		t.Fatalf("expected default validity, got %s", res.Wallet.ValidUntilLabel())
	}
}

func TestUpdateDraftIsAtomic(t *testing.T) {
	svc, _ := newTestService(newFakeStore(), &recordProducer{})
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := svc.UpdateDraft(ctx, UpdateDraftInput{AccountID: accountID, Name: strPtr("x")}); !errors.Is(err, lifecycle.ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft, got %v", err)
	}
	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})

	_, err := svc.UpdateDraft(ctx, UpdateDraftInput{AccountID: accountID, Name: strPtr("ok"), Address: strPtr("0x123")})
	var verr *lifecycle.ValidationError
	if !errors.As(err, &verr) || verr.Field != "address" {
		t.Fatalf("expected address validation error, got %v", err)
	}
	current, _ := svc.Draft(ctx, accountID)
	if current.Name != "" || current.Address != draft.Address {
		t.Fatalf("failed update must leave the draft untouched, got %+v", current)
	}

	addr := "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"
	updated, err := svc.UpdateDraft(ctx, UpdateDraftInput{AccountID: accountID, Name: strPtr("Bot-1"), Address: &addr})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Bot-1" || updated.Address != "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed" {
		t.Fatalf("unexpected draft %+v", updated)
	}

	if err := svc.DiscardDraft(ctx, accountID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := svc.DiscardDraft(ctx, accountID); !errors.Is(err, lifecycle.ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft, got %v", err)
	}
}

func TestSessionLoadsOnceFromStore(t *testing.T) {
	store := newFakeStore()
	accountID := uuid.New()
	store.subaccounts[accountID] = []string{"vault-a"}
	store.wallets[accountID] = []lifecycle.Wallet{{
		ID:           uuid.New(),
		DraftID:      uuid.New(),
		Name:         "restored",
		Address:      "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		Status:       lifecycle.StatusAuthorized,
		AuthorizedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Sequence:     1,
	}}
	svc, _ := newTestService(store, &recordProducer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		overview, err := svc.Overview(ctx, accountID)
		if err != nil {
			t.Fatalf("overview: %v", err)
		}
		if len(overview.Wallets) != 1 || overview.Step != lifecycle.StepSaveKey {
			t.Fatalf("unexpected overview %+v", overview)
		}
	}
	if store.loads != 1 {
		t.Fatalf("expected a single load, got %d", store.loads)
	}

	q, _ := svc.Quota(ctx, accountID)
	if len(q.Subaccounts) != 1 || q.Subaccounts[0].Limit != 2 {
		t.Fatalf("expected subaccount allowance, got %+v", q.Subaccounts)
	}
}

func TestLoadFailureIsRetried(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("db down")
	svc, _ := newTestService(store, &recordProducer{})
	ctx := context.Background()
	accountID := uuid.New()

	if _, err := svc.Overview(ctx, accountID); err == nil {
		t.Fatalf("expected load error")
	}
	store.loadErr = nil
	if _, err := svc.Overview(ctx, accountID); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestSubaccountEvents(t *testing.T) {
	svc, _ := newTestService(newFakeStore(), &recordProducer{})
	ctx := context.Background()
	accountID := uuid.New()

	if svc.SubaccountOpened(accountID, "vault-a") {
		t.Fatalf("unloaded sessions are not updated")
	}
	if _, err := svc.Overview(ctx, accountID); err != nil {
		t.Fatalf("overview: %v", err)
	}
	if !svc.SubaccountOpened(accountID, "Vault-A") {
		t.Fatalf("expected loaded session to be updated")
	}

	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	res, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID, Subaccount: "vault-a"})
	if err != nil {
		t.Fatalf("authorize on subaccount: %v", err)
	}
	if res.Wallet.Subaccount != "vault-a" {
		t.Fatalf("unexpected subaccount %q", res.Wallet.Subaccount)
	}

	svc.SubaccountClosed(accountID, "vault-a")
	draft, _ = svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	if _, err := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID, Subaccount: "vault-a"}); err == nil {
		t.Fatalf("closed subaccount must be rejected")
	}
}

func TestRevokeUnknownWallet(t *testing.T) {
	producer := &recordProducer{}
	svc, _ := newTestService(newFakeStore(), producer)
	if _, err := svc.Revoke(context.Background(), RevokeInput{AccountID: uuid.New(), WalletID: uuid.New()}); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(producer.published) != 0 {
		t.Fatalf("failed revoke must not publish")
	}
}

func TestRevokePublishes(t *testing.T) {
	store := newFakeStore()
	producer := &recordProducer{}
	svc, _ := newTestService(store, producer)
	ctx := context.Background()
	accountID := uuid.New()

	draft, _ := svc.GenerateDraft(ctx, GenerateInput{AccountID: accountID})
	res, _ := svc.Authorize(ctx, AuthorizeInput{AccountID: accountID, DraftID: draft.DraftID})
	if _, err := svc.Revoke(ctx, RevokeInput{AccountID: accountID, WalletID: res.Wallet.ID, CorrelationID: "req-1"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(producer.published) != 2 || producer.published[1] != testTopics.WalletsRevoked {
		t.Fatalf("expected revoked event, got %v", producer.published)
	}
	event := producer.values[1].(WalletRevokedEvent)
	if event.CorrelationID != "req-1" || event.RevokedAt == "" {
		t.Fatalf("unexpected event %+v", event)
	}
	if saved := store.wallets[accountID]; len(saved) != 1 || saved[0].Status != lifecycle.StatusRevoked {
		t.Fatalf("expected revoked wallet to be saved, got %+v", saved)
	}
}
