package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/address"
	"github.com/AfshinJalili/apiwallet/libs/kafka"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/storage"
	"github.com/google/uuid"
	"log/slog"
)

const (
	statusSuccess  = "success"
	statusExisting = "existing"
	statusRejected = "rejected"
	statusError    = "error"

	MaxValidForDays = 365
)

type WalletStore interface {
	LoadWallets(ctx context.Context, accountID uuid.UUID) ([]lifecycle.Wallet, error)
	SaveWallets(ctx context.Context, accountID uuid.UUID, wallets []lifecycle.Wallet) error
	ListSubaccounts(ctx context.Context, accountID uuid.UUID) ([]string, error)
	InsertAudit(ctx context.Context, log storage.AuditLog) error
}

type Config struct {
	Limits lifecycle.Limits
	// DefaultValidity applies when authorize does not name a validity.
	// Zero means wallets never expire.
	DefaultValidity time.Duration
	Source          address.Source
	Clock           lifecycle.Clock
}

type WalletService struct {
	store    WalletStore
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
	cfg      Config

	mu sync.Mutex
	// sessions is never evicted: a session holds the account's unsaved draft.
	// Memory grows with the number of distinct accounts served since start.
	sessions map[uuid.UUID]*session
}

// session serialises every call for one account, so a mutation and the save
// that follows it never interleave with another request.
type session struct {
	mu      sync.Mutex
	manager *lifecycle.Manager
}

type GenerateInput struct {
	AccountID uuid.UUID
	Name      *string
}

type UpdateDraftInput struct {
	AccountID uuid.UUID
	Name      *string
	Address   *string
}

type AuthorizeInput struct {
	AccountID     uuid.UUID
	DraftID       uuid.UUID
	ValidForDays  *int
	Subaccount    string
	IP            string
	UserAgent     string
	CorrelationID string
}

type AuthorizeResult struct {
	Wallet    lifecycle.Wallet
	Existing  bool
	Persisted bool
}

type RevokeInput struct {
	AccountID     uuid.UUID
	WalletID      uuid.UUID
	IP            string
	UserAgent     string
	CorrelationID string
}

type RevokeResult struct {
	Wallet    lifecycle.Wallet
	Persisted bool
}

type Overview struct {
	Wallets []lifecycle.Wallet
	Draft   *lifecycle.Wallet
	Empty   bool
	Step    lifecycle.Step
	Quota   lifecycle.Quota
}

func NewWalletService(store WalletStore, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics, cfg Config) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = lifecycle.SystemClock()
	}
	return &WalletService{
		store:    store,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*session),
	}
}

func (s *WalletService) GenerateDraft(ctx context.Context, input GenerateInput) (lifecycle.Wallet, error) {
	start := time.Now()
	var draft lifecycle.Wallet
	err := s.withManager(ctx, input.AccountID, func(m *lifecycle.Manager) error {
		var err error
		if input.Name != nil {
			draft, err = m.GenerateNamedWallet(*input.Name)
		} else {
			draft, err = m.GenerateWallet()
		}
		return err
	})
	s.observe("generate", start, err)
	if err != nil {
		return lifecycle.Wallet{}, err
	}
	return draft, nil
}

// UpdateDraft applies a name and/or address to the current draft. Both
// values are validated before either is applied.
func (s *WalletService) UpdateDraft(ctx context.Context, input UpdateDraftInput) (lifecycle.Wallet, error) {
	start := time.Now()
	if input.Name != nil {
		if _, err := lifecycle.NormalizeName(*input.Name); err != nil {
			s.observe("update_draft", start, err)
			return lifecycle.Wallet{}, err
		}
	}
	if input.Address != nil {
		if _, err := address.Normalize(*input.Address); err != nil {
			err = &lifecycle.ValidationError{Field: "address", Message: "address must be 0x followed by 40 hex characters"}
			s.observe("update_draft", start, err)
			return lifecycle.Wallet{}, err
		}
	}

	var draft lifecycle.Wallet
	err := s.withManager(ctx, input.AccountID, func(m *lifecycle.Manager) error {
		current, ok := m.Draft()
		if !ok {
			return lifecycle.ErrNoDraft
		}
		draft = current
		var err error
		if input.Address != nil {
			if draft, err = m.SetDraftAddress(*input.Address); err != nil {
				return err
			}
		}
		if input.Name != nil {
			if draft, err = m.SetDraftName(*input.Name); err != nil {
				return err
			}
		}
		return nil
	})
	s.observe("update_draft", start, err)
	if err != nil {
		return lifecycle.Wallet{}, err
	}
	return draft, nil
}

func (s *WalletService) Draft(ctx context.Context, accountID uuid.UUID) (lifecycle.Wallet, error) {
	var draft lifecycle.Wallet
	err := s.withManager(ctx, accountID, func(m *lifecycle.Manager) error {
		current, ok := m.Draft()
		if !ok {
			return lifecycle.ErrNoDraft
		}
		draft = current
		return nil
	})
	return draft, err
}

func (s *WalletService) DiscardDraft(ctx context.Context, accountID uuid.UUID) error {
	start := time.Now()
	err := s.withManager(ctx, accountID, func(m *lifecycle.Manager) error {
		if !m.DiscardDraft() {
			return lifecycle.ErrNoDraft
		}
		return nil
	})
	s.observe("discard_draft", start, err)
	return err
}

func (s *WalletService) Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error) {
	start := time.Now()
	if input.DraftID == uuid.Nil {
		err := &lifecycle.ValidationError{Field: "draft_id", Message: "draft_id is required"}
		s.observe("authorize", start, err)
		return nil, err
	}

	validity := s.cfg.DefaultValidity
	if input.ValidForDays != nil {
		days := *input.ValidForDays
		if days < 0 || days > MaxValidForDays {
			err := &lifecycle.ValidationError{Field: "valid_for_days", Message: fmt.Sprintf("valid_for_days must be between 0 and %d", MaxValidForDays)}
			s.observe("authorize", start, err)
			return nil, err
		}
		validity = time.Duration(days) * 24 * time.Hour
	}

	var result *AuthorizeResult
	err := s.withManager(ctx, input.AccountID, func(m *lifecycle.Manager) error {
		opts := lifecycle.AuthorizeOptions{Subaccount: input.Subaccount}
		if validity > 0 {
			until := s.cfg.Clock.Now().UTC().Add(validity)
			opts.ValidUntil = &until
		}

		wallet, err := m.Authorize(lifecycle.Wallet{DraftID: input.DraftID}, opts)
		var already *lifecycle.AlreadyAuthorizedError
		if errors.As(err, &already) {
			result = &AuthorizeResult{Wallet: already.Wallet, Existing: true, Persisted: true}
			return nil
		}
		if err != nil {
			return err
		}

		result = &AuthorizeResult{Wallet: wallet}
		result.Persisted = s.persist(ctx, input.AccountID, m)
		return nil
	})
	if err != nil {
		s.observe("authorize", start, err)
		return nil, err
	}
	if result.Existing {
		s.observeStatus("authorize", start, statusExisting)
		return result, nil
	}
	s.observe("authorize", start, nil)

	s.publishAuthorized(ctx, input.CorrelationID, input.AccountID, result.Wallet)
	s.insertAudit(ctx, input.AccountID, "api_wallets.authorize", result.Wallet.ID, input.IP, input.UserAgent)
	s.logger.Info("api wallet authorized", "account_id", input.AccountID, "wallet_id", result.Wallet.ID, "named", result.Wallet.Named(), "persisted", result.Persisted)
	return result, nil
}

func (s *WalletService) Revoke(ctx context.Context, input RevokeInput) (*RevokeResult, error) {
	start := time.Now()
	var result *RevokeResult
	err := s.withManager(ctx, input.AccountID, func(m *lifecycle.Manager) error {
		wallet, err := m.Revoke(input.WalletID)
		if err != nil {
			return err
		}
		result = &RevokeResult{Wallet: wallet}
		result.Persisted = s.persist(ctx, input.AccountID, m)
		return nil
	})
	s.observe("revoke", start, err)
	if err != nil {
		return nil, err
	}

	s.publishRevoked(ctx, input.CorrelationID, input.AccountID, result.Wallet)
	s.insertAudit(ctx, input.AccountID, "api_wallets.revoke", result.Wallet.ID, input.IP, input.UserAgent)
	s.logger.Info("api wallet revoked", "account_id", input.AccountID, "wallet_id", result.Wallet.ID, "persisted", result.Persisted)
	return result, nil
}

func (s *WalletService) Overview(ctx context.Context, accountID uuid.UUID) (*Overview, error) {
	var out *Overview
	err := s.withManager(ctx, accountID, func(m *lifecycle.Manager) error {
		out = &Overview{
			Wallets: m.List(),
			Empty:   m.IsEmpty(),
			Step:    m.Step(),
			Quota:   m.Quota(),
		}
		if draft, ok := m.Draft(); ok {
			out.Draft = &draft
		}
		return nil
	})
	return out, err
}

func (s *WalletService) Quota(ctx context.Context, accountID uuid.UUID) (lifecycle.Quota, error) {
	var q lifecycle.Quota
	err := s.withManager(ctx, accountID, func(m *lifecycle.Manager) error {
		q = m.Quota()
		return nil
	})
	return q, err
}

// SubaccountOpened and SubaccountClosed update sessions that are already
// loaded. Unloaded sessions read the current set from the store on first use.
func (s *WalletService) SubaccountOpened(accountID uuid.UUID, label string) bool {
	return s.applyLoaded(accountID, func(m *lifecycle.Manager) { m.AddSubaccount(label) })
}

func (s *WalletService) SubaccountClosed(accountID uuid.UUID, label string) bool {
	return s.applyLoaded(accountID, func(m *lifecycle.Manager) { m.RemoveSubaccount(label) })
}

func (s *WalletService) applyLoaded(accountID uuid.UUID, fn func(*lifecycle.Manager)) bool {
	s.mu.Lock()
	sess, ok := s.sessions[accountID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.manager == nil {
		return false
	}
	fn(sess.manager)
	return true
}

func (s *WalletService) withManager(ctx context.Context, accountID uuid.UUID, fn func(*lifecycle.Manager) error) error {
	if accountID == uuid.Nil {
		return errors.New("account id required")
	}
	sess := s.session(accountID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.manager == nil {
		m, err := s.load(ctx, accountID)
		if err != nil {
			return err
		}
		sess.manager = m
		if s.metrics != nil {
			s.metrics.Sessions.Inc()
		}
	}
	return fn(sess.manager)
}

func (s *WalletService) session(accountID uuid.UUID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[accountID]
	if !ok {
		sess = &session{}
		s.sessions[accountID] = sess
	}
	return sess
}

func (s *WalletService) load(ctx context.Context, accountID uuid.UUID) (*lifecycle.Manager, error) {
	opts := lifecycle.Options{
		Limits: s.cfg.Limits,
		Source: s.cfg.Source,
		Clock:  s.cfg.Clock,
	}
	if s.store == nil {
		return lifecycle.NewManager(opts), nil
	}

	subaccounts, err := s.store.ListSubaccounts(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load subaccounts: %w", err)
	}
	opts.Subaccounts = subaccounts

	wallets, err := s.store.LoadWallets(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	m, err := lifecycle.Restore(opts, wallets)
	if err != nil {
		return nil, fmt.Errorf("restore wallets: %w", err)
	}
	return m, nil
}

// persist saves the committed collection. A failure leaves the in-memory
// state authoritative and is reported to the caller.
func (s *WalletService) persist(ctx context.Context, accountID uuid.UUID, m *lifecycle.Manager) bool {
	if s.store == nil {
		return true
	}
	if err := s.store.SaveWallets(ctx, accountID, m.List()); err != nil {
		s.logger.Error("persist api wallets failed", "account_id", accountID, "error", err)
		if s.metrics != nil {
			s.metrics.PersistFailures.Inc()
		}
		return false
	}
	return true
}

func (s *WalletService) insertAudit(ctx context.Context, accountID uuid.UUID, action string, walletID uuid.UUID, ip, userAgent string) {
	if s.store == nil {
		return
	}
	log := storage.AuditLog{
		ActorID:    accountID,
		ActorType:  "user",
		Action:     action,
		EntityType: "api_wallet",
		EntityID:   &walletID,
		IP:         ip,
		UserAgent:  userAgent,
	}
	if err := s.store.InsertAudit(ctx, log); err != nil {
		s.logger.Error("audit log failed", "error", err)
	}
}

func (s *WalletService) observe(operation string, start time.Time, err error) {
	s.observeStatus(operation, start, operationStatus(err))
}

func (s *WalletService) observeStatus(operation string, start time.Time, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Operations.WithLabelValues(operation, status).Inc()
	s.metrics.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func operationStatus(err error) string {
	if err == nil {
		return statusSuccess
	}
	var verr *lifecycle.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, lifecycle.ErrQuotaExceeded),
		errors.Is(err, lifecycle.ErrDuplicateAddress),
		errors.Is(err, lifecycle.ErrNoDraft),
		errors.Is(err, lifecycle.ErrNotFound):
		return statusRejected
	default:
		return statusError
	}
}
