package memory

// Package memory provides a simple in-memory implementation used for development and tests.
// It keeps code paths easy to follow while allowing us to plug in a real DB later.
import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// accountExtKey dedups accounts per user by provider identity.
type accountExtKey struct {
	UserID     uuid.UUID
	Provider   string
	ExternalID string
}

// txnExtKey enforces (account, external_id) uniqueness for transactions.
type txnExtKey struct {
	AccountID  uuid.UUID
	ExternalID string
}

// Store is an in-memory implementation of every service repository+writer.
// It is guarded by an RWMutex for concurrent reads/writes.
type Store struct {
	mu            sync.RWMutex
	accounts      map[uuid.UUID]ledger.Account
	accountsByExt map[accountExtKey]uuid.UUID
	transactions  map[uuid.UUID]ledger.Transaction
	txnsByExt     map[txnExtKey]uuid.UUID
	definitions   map[uuid.UUID]ledger.RecurringDefinition
	// memberships is keyed by transaction ID: at most one group per transaction.
	memberships map[uuid.UUID]ledger.LinkMembership
	groups      map[uuid.UUID][]uuid.UUID
	snapshots   map[uuid.UUID][]ledger.BalanceSnapshot
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:      make(map[uuid.UUID]ledger.Account),
		accountsByExt: make(map[accountExtKey]uuid.UUID),
		transactions:  make(map[uuid.UUID]ledger.Transaction),
		txnsByExt:     make(map[txnExtKey]uuid.UUID),
		definitions:   make(map[uuid.UUID]ledger.RecurringDefinition),
		memberships:   make(map[uuid.UUID]ledger.LinkMembership),
		groups:        make(map[uuid.UUID][]uuid.UUID),
		snapshots:     make(map[uuid.UUID][]ledger.BalanceSnapshot),
	}
}

// Seed helpers for local dev/tests.
func (s *Store) SeedAccount(a ledger.Account) { s.mu.Lock(); s.putAccountLocked(a); s.mu.Unlock() }
func (s *Store) SeedTransaction(t ledger.Transaction) {
	s.mu.Lock()
	s.putTransactionLocked(t)
	s.mu.Unlock()
}
func (s *Store) SeedDefinition(d ledger.RecurringDefinition) {
	s.mu.Lock()
	s.definitions[d.ID] = d
	s.mu.Unlock()
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.accounts = map[uuid.UUID]ledger.Account{}
	s.accountsByExt = map[accountExtKey]uuid.UUID{}
	s.transactions = map[uuid.UUID]ledger.Transaction{}
	s.txnsByExt = map[txnExtKey]uuid.UUID{}
	s.definitions = map[uuid.UUID]ledger.RecurringDefinition{}
	s.memberships = map[uuid.UUID]ledger.LinkMembership{}
	s.groups = map[uuid.UUID][]uuid.UUID{}
	s.snapshots = map[uuid.UUID][]ledger.BalanceSnapshot{}
	s.mu.Unlock()
}

func (s *Store) putAccountLocked(a ledger.Account) {
	s.accounts[a.ID] = a
	if a.ExternalID != "" {
		s.accountsByExt[accountExtKey{a.UserID, a.Provider, a.ExternalID}] = a.ID
	}
}

func (s *Store) putTransactionLocked(t ledger.Transaction) {
	s.transactions[t.ID] = t
	if t.ExternalID != "" {
		s.txnsByExt[txnExtKey{t.AccountID, t.ExternalID}] = t.ID
	}
}

// --- accounts ---

func (s *Store) Account(_ context.Context, userID, accountID uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok || acc.UserID != userID {
		return ledger.Account{}, errs.ErrNotFound
	}
	return acc, nil
}

func (s *Store) AccountsByUserID(_ context.Context, userID uuid.UUID) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Account
	for _, acc := range s.accounts {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AccountByExternalID(_ context.Context, userID uuid.UUID, provider, externalID string) (ledger.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accountsByExt[accountExtKey{userID, provider, externalID}]
	if !ok {
		return ledger.Account{}, false, nil
	}
	return s.accounts[id], true, nil
}

func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; exists {
		return ledger.Account{}, errs.ErrConflict
	}
	s.putAccountLocked(a)
	return a, nil
}

func (s *Store) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok || cur.UserID != a.UserID {
		return ledger.Account{}, errs.ErrNotFound
	}
	s.putAccountLocked(a)
	return a, nil
}

// --- transactions ---

func (s *Store) Transaction(_ context.Context, userID, transactionID uuid.UUID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[transactionID]
	if !ok || t.UserID != userID {
		return ledger.Transaction{}, errs.ErrNotFound
	}
	return t, nil
}

func (s *Store) TransactionsByIDs(_ context.Context, userID uuid.UUID, ids []uuid.UUID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Transaction, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.transactions[id]; ok && t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) TransactionByExternalID(_ context.Context, accountID uuid.UUID, externalID string) (ledger.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.txnsByExt[txnExtKey{accountID, externalID}]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return s.transactions[id], true, nil
}

// Transactions scans with the query's filters, ordered by booked date asc.
func (s *Store) Transactions(_ context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Transaction
	for _, t := range s.transactions {
		if q.UserID != uuid.Nil && t.UserID != q.UserID {
			continue
		}
		if q.AccountID != uuid.Nil && t.AccountID != q.AccountID {
			continue
		}
		if q.Currency != "" && t.Currency() != q.Currency {
			continue
		}
		if q.From != nil && t.BookedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && t.BookedAt.After(*q.To) {
			continue
		}
		if q.UnlinkedRecurring && t.RecurringID != uuid.Nil {
			continue
		}
		if q.ExpensesOnly && t.AmountMinor() >= 0 {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[t.ID]; exists {
		return ledger.Transaction{}, errs.ErrConflict
	}
	if t.ExternalID != "" {
		if _, exists := s.txnsByExt[txnExtKey{t.AccountID, t.ExternalID}]; exists {
			return ledger.Transaction{}, errs.ErrConflict
		}
	}
	s.putTransactionLocked(t)
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[t.ID]
	if !ok || cur.UserID != t.UserID {
		return ledger.Transaction{}, errs.ErrNotFound
	}
	s.putTransactionLocked(t)
	return t, nil
}

// --- recurring definitions ---

func (s *Store) Definition(_ context.Context, userID, definitionID uuid.UUID) (ledger.RecurringDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[definitionID]
	if !ok || d.UserID != userID {
		return ledger.RecurringDefinition{}, errs.ErrNotFound
	}
	return d, nil
}

func (s *Store) DefinitionsByUserID(_ context.Context, userID uuid.UUID) ([]ledger.RecurringDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.RecurringDefinition
	for _, d := range s.definitions {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateDefinition(_ context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.definitions[d.ID]; exists {
		return ledger.RecurringDefinition{}, errs.ErrConflict
	}
	s.definitions[d.ID] = d
	return d, nil
}

func (s *Store) UpdateDefinition(_ context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.definitions[d.ID]
	if !ok || cur.UserID != d.UserID {
		return ledger.RecurringDefinition{}, errs.ErrNotFound
	}
	s.definitions[d.ID] = d
	return d, nil
}

func (s *Store) SetTransactionRecurring(_ context.Context, userID uuid.UUID, transactionIDs []uuid.UUID, recurringID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, id := range transactionIDs {
		t, ok := s.transactions[id]
		if !ok || t.UserID != userID || t.RecurringID == recurringID {
			continue
		}
		t.RecurringID = recurringID
		s.transactions[id] = t
		changed++
	}
	return changed, nil
}

func (s *Store) ClearTransactionRecurring(_ context.Context, userID, recurringID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := 0
	for id, t := range s.transactions {
		if t.UserID == userID && t.RecurringID == recurringID {
			t.RecurringID = uuid.Nil
			s.transactions[id] = t
			cleared++
		}
	}
	return cleared, nil
}

// --- link memberships ---

func (s *Store) Membership(_ context.Context, transactionID uuid.UUID) (ledger.LinkMembership, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[transactionID]
	return m, ok, nil
}

func (s *Store) GroupMembers(_ context.Context, groupID uuid.UUID) ([]ledger.LinkMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.groups[groupID]
	out := make([]ledger.LinkMembership, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.memberships[id])
	}
	return out, nil
}

// PutMemberships writes all rows or none: a transaction that already belongs
// to a group rejects the whole batch.
func (s *Store) PutMemberships(_ context.Context, rows []ledger.LinkMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if _, exists := s.memberships[r.TransactionID]; exists {
			return errs.ErrAlreadyLinked
		}
	}
	for _, r := range rows {
		s.memberships[r.TransactionID] = r
		s.groups[r.GroupID] = append(s.groups[r.GroupID], r.TransactionID)
	}
	return nil
}

func (s *Store) DeleteMembership(_ context.Context, transactionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[transactionID]
	if !ok {
		return errs.ErrNotFound
	}
	delete(s.memberships, transactionID)
	ids := s.groups[m.GroupID]
	for i, id := range ids {
		if id == transactionID {
			s.groups[m.GroupID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, groupID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.groups[groupID] {
		delete(s.memberships, id)
	}
	delete(s.groups, groupID)
	return nil
}

// --- balance snapshots ---

func (s *Store) SnapshotOnOrBefore(_ context.Context, accountID uuid.UUID, asOf time.Time) (ledger.BalanceSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best ledger.BalanceSnapshot
	found := false
	for _, snap := range s.snapshots[accountID] {
		if snap.AsOf.After(asOf) {
			continue
		}
		if !found || snap.AsOf.After(best.AsOf) {
			best = snap
			found = true
		}
	}
	return best, found, nil
}

// SaveSnapshot upserts by (account, as-of instant).
func (s *Store) SaveSnapshot(_ context.Context, snap ledger.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[snap.AccountID]
	for i, cur := range list {
		if cur.AsOf.Equal(snap.AsOf) {
			list[i] = snap
			return nil
		}
	}
	s.snapshots[snap.AccountID] = append(list, snap)
	return nil
}

func (s *Store) InvalidateSnapshots(_ context.Context, accountID uuid.UUID, from time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[accountID]
	kept := list[:0]
	for _, snap := range list {
		if snap.AsOf.Before(from) {
			kept = append(kept, snap)
		}
	}
	s.snapshots[accountID] = kept
	return nil
}
