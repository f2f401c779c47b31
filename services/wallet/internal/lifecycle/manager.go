package lifecycle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/address"
	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

type Options struct {
	Limits      Limits
	Source      address.Source
	Clock       Clock
	Subaccounts []string
}

type AuthorizeOptions struct {
	ValidUntil *time.Time
	Subaccount string
}

// Manager owns the API wallets of one primary account. All methods run to
// completion under the manager lock, so no partial state is observable.
type Manager struct {
	mu          sync.Mutex
	limits      Limits
	source      address.Source
	clock       Clock
	wallets     []*Wallet
	byDraft     map[uuid.UUID]*Wallet
	draft       *Wallet
	subaccounts map[string]struct{}
	seq         int64
}

func NewManager(opts Options) *Manager {
	if opts.Source == nil {
		opts.Source = address.KeySource{}
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	m := &Manager{
		limits:  opts.Limits,
		source:  opts.Source,
		clock:   opts.Clock,
		byDraft: make(map[uuid.UUID]*Wallet),
	}
	m.setSubaccounts(opts.Subaccounts)
	return m
}

// Restore rebuilds a manager from previously committed wallets.
func Restore(opts Options, wallets []Wallet) (*Manager, error) {
	m := NewManager(opts)
	ids := make(map[uuid.UUID]struct{}, len(wallets))
	active := make(map[string]struct{}, len(wallets))
	for i := range wallets {
		w := wallets[i].clone()
		if w.ID == uuid.Nil {
			return nil, fmt.Errorf("restore wallet %d: missing id", i)
		}
		if _, dup := ids[w.ID]; dup {
			return nil, fmt.Errorf("restore wallet %s: duplicate id", w.ID)
		}
		ids[w.ID] = struct{}{}
		if w.Status != StatusAuthorized && w.Status != StatusRevoked {
			return nil, fmt.Errorf("restore wallet %s: unexpected status %q", w.ID, w.Status)
		}
		addr, err := address.Normalize(w.Address)
		if err != nil {
			return nil, fmt.Errorf("restore wallet %s: %w", w.ID, err)
		}
		w.Address = addr
		name, err := NormalizeName(w.Name)
		if err != nil {
			return nil, fmt.Errorf("restore wallet %s: %w", w.ID, err)
		}
		w.Name = name
		w.Subaccount = normalizeSubaccount(w.Subaccount)
		if w.Status == StatusAuthorized {
			if _, dup := active[addr]; dup {
				return nil, fmt.Errorf("restore wallet %s: %w", w.ID, &DuplicateAddressError{Address: addr})
			}
			active[addr] = struct{}{}
		}
		if w.Sequence > m.seq {
			m.seq = w.Sequence
		}
		stored := &w
		m.wallets = append(m.wallets, stored)
		if w.DraftID != uuid.Nil {
			m.byDraft[w.DraftID] = stored
		}
	}
	// Rows written before sequences existed get one after the known maximum.
	for _, w := range m.wallets {
		if w.Sequence == 0 {
			m.seq++
			w.Sequence = m.seq
		}
	}
	return m, nil
}

// GenerateWallet creates a new draft, replacing any unauthorized one. It fails
// only when the entropy source does.
func (m *Manager) GenerateWallet() (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateLocked("")
}

// GenerateNamedWallet validates rawName before generating, so a bad name
// leaves the previous draft in place.
func (m *Manager) GenerateNamedWallet(rawName string) (Wallet, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Wallet{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateLocked(name)
}

func (m *Manager) generateLocked(name string) (Wallet, error) {
	addr, err := address.Generate(m.source, m.knownAddressLocked)
	if err != nil {
		return Wallet{}, fmt.Errorf("generate address: %w", err)
	}
	m.draft = &Wallet{
		DraftID: uuid.New(),
		Name:    name,
		Address: addr,
		Status:  StatusDraft,
	}
	return m.draft.clone(), nil
}

func (m *Manager) SetDraftName(rawName string) (Wallet, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Wallet{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return Wallet{}, ErrNoDraft
	}
	m.draft.Name = name
	return m.draft.clone(), nil
}

// SetDraftAddress replaces the generated address with one supplied by the user.
func (m *Manager) SetDraftAddress(raw string) (Wallet, error) {
	addr, err := address.Normalize(raw)
	if err != nil {
		return Wallet{}, invalid("address", "address must be 0x followed by 40 hex characters")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return Wallet{}, ErrNoDraft
	}
	m.draft.Address = addr
	return m.draft.clone(), nil
}

func (m *Manager) Draft() (Wallet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return Wallet{}, false
	}
	return m.draft.clone(), true
}

// DiscardDraft drops the current draft. It never entered the collection.
func (m *Manager) DiscardDraft() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	had := m.draft != nil
	m.draft = nil
	return had
}

// Authorize commits draft to the collection. The stored draft is the source
// of truth; the argument only identifies it. Submitting the same draft twice
// yields AlreadyAuthorizedError carrying the first result.
func (m *Manager) Authorize(draft Wallet, opts AuthorizeOptions) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byDraft[draft.DraftID]; ok && draft.DraftID != uuid.Nil {
		return Wallet{}, &AlreadyAuthorizedError{Wallet: existing.clone()}
	}
	if m.draft == nil || m.draft.DraftID != draft.DraftID {
		return Wallet{}, ErrNoDraft
	}
	d := m.draft

	addr, err := address.Normalize(d.Address)
	if err != nil {
		return Wallet{}, invalid("address", "address must be 0x followed by 40 hex characters")
	}

	sub := normalizeSubaccount(opts.Subaccount)
	if sub != "" {
		if _, ok := m.subaccounts[sub]; !ok {
			return Wallet{}, invalid("subaccount", "unknown subaccount")
		}
	}

	now := m.clock.Now().UTC()
	var validUntil *time.Time
	if opts.ValidUntil != nil {
		if !opts.ValidUntil.After(now) {
			return Wallet{}, invalid("valid_until", "valid_until must be in the future")
		}
		v := opts.ValidUntil.UTC()
		validUntil = &v
	}

	for _, w := range m.wallets {
		if w.Status == StatusAuthorized && w.Address == addr {
			return Wallet{}, &DuplicateAddressError{Address: addr}
		}
	}

	quota := computeQuota(m.wallets, m.limits, m.subaccounts)
	class, usage := quota.usageFor(d.Named(), sub)
	if usage.Used >= usage.Limit {
		return Wallet{}, &QuotaExceededError{Class: class, Used: usage.Used, Limit: usage.Limit}
	}

	m.seq++
	w := &Wallet{
		ID:           uuid.New(),
		DraftID:      d.DraftID,
		Name:         d.Name,
		Address:      addr,
		Subaccount:   sub,
		ValidUntil:   validUntil,
		Status:       StatusAuthorized,
		AuthorizedAt: now,
		Sequence:     m.seq,
	}
	m.wallets = append(m.wallets, w)
	m.byDraft[w.DraftID] = w
	m.draft = nil
	return w.clone(), nil
}

// Revoke moves an authorized wallet to revoked. Revoked wallets stay listed.
func (m *Manager) Revoke(id uuid.UUID) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.ID != id {
			continue
		}
		if w.Status != StatusAuthorized {
			return Wallet{}, ErrNotFound
		}
		now := m.clock.Now().UTC()
		w.Status = StatusRevoked
		w.RevokedAt = &now
		return w.clone(), nil
	}
	return Wallet{}, ErrNotFound
}

// List returns committed wallets, most recently authorized first.
func (m *Manager) List() []Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AuthorizedAt.Equal(out[j].AuthorizedAt) {
			return out[i].AuthorizedAt.After(out[j].AuthorizedAt)
		}
		return out[i].Sequence > out[j].Sequence
	})
	return out
}

func (m *Manager) Quota() Quota {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeQuota(m.wallets, m.limits, m.subaccounts)
}

// IsEmpty reports whether no wallet has ever been authorized.
func (m *Manager) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wallets) == 0
}

func (m *Manager) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.draft != nil:
		return StepAuthorize
	case len(m.wallets) > 0:
		return StepSaveKey
	default:
		return StepGenerate
	}
}

func (m *Manager) SetSubaccounts(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setSubaccounts(names)
}

func (m *Manager) AddSubaccount(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := normalizeSubaccount(name); n != "" {
		m.subaccounts[n] = struct{}{}
	}
}

func (m *Manager) RemoveSubaccount(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subaccounts, normalizeSubaccount(name))
}

func (m *Manager) setSubaccounts(names []string) {
	m.subaccounts = make(map[string]struct{}, len(names))
	for _, name := range names {
		if n := normalizeSubaccount(name); n != "" {
			m.subaccounts[n] = struct{}{}
		}
	}
}

func (m *Manager) knownAddressLocked(addr string) bool {
	for _, w := range m.wallets {
		if w.Address == addr {
			return true
		}
	}
	return false
}
