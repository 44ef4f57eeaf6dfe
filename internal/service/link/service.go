// Package link manages transaction link groups: a primary transaction plus
// related reimbursements or expenses, with a net effective amount.
package link

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// Repo defines read operations needed by the service.
type Repo interface {
	Transaction(ctx context.Context, userID, transactionID uuid.UUID) (ledger.Transaction, error)
	TransactionsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]ledger.Transaction, error)
	// Membership returns the link row for a transaction, if any.
	Membership(ctx context.Context, transactionID uuid.UUID) (ledger.LinkMembership, bool, error)
	GroupMembers(ctx context.Context, groupID uuid.UUID) ([]ledger.LinkMembership, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	// PutMemberships inserts all rows atomically; none are written on failure.
	PutMemberships(ctx context.Context, rows []ledger.LinkMembership) error
	DeleteMembership(ctx context.Context, transactionID uuid.UUID) error
	DeleteGroup(ctx context.Context, groupID uuid.UUID) error
}

// Service exposes link group management.
type Service interface {
	CreateGroup(ctx context.Context, userID, primaryID uuid.UUID, others []uuid.UUID, role ledger.LinkRole) (GroupView, error)
	BulkLink(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (GroupView, error)
	AddMember(ctx context.Context, userID, groupID, transactionID uuid.UUID, role ledger.LinkRole) (GroupView, error)
	RemoveMember(ctx context.Context, userID, transactionID uuid.UUID) (GroupView, bool, error)
	Dissolve(ctx context.Context, userID, groupID uuid.UUID) error
	Group(ctx context.Context, userID, transactionID uuid.UUID) (GroupView, bool, error)
}

// GroupView is the assembled read model of one link group.
type GroupView struct {
	GroupID uuid.UUID
	Primary ledger.Transaction
	// Others holds the non-primary members ordered by booked date.
	Others []ledger.Transaction
	Roles  map[uuid.UUID]ledger.LinkRole
	// NetMinor is the sum of all member amounts in minor units: the effective
	// cost of the primary after reimbursements.
	NetMinor int64
	Net      money.Amount
	Currency string
}

type service struct {
	repo   Repo
	writer Writer
}

// New constructs the link service.
func New(repo Repo, writer Writer) Service {
	return &service{repo: repo, writer: writer}
}

// CreateGroup links the primary with the given transactions under one new
// group. Every non-primary member gets the same role.
func (s *service) CreateGroup(ctx context.Context, userID, primaryID uuid.UUID, others []uuid.UUID, role ledger.LinkRole) (GroupView, error) {
	if userID == uuid.Nil || primaryID == uuid.Nil {
		return GroupView{}, errs.ErrInvalid
	}
	if len(others) == 0 {
		return GroupView{}, fmt.Errorf("%w: a group needs at least one linked transaction", errs.ErrInvalid)
	}
	if role != ledger.LinkRoleReimbursement && role != ledger.LinkRoleExpense {
		return GroupView{}, fmt.Errorf("%w: unsupported link role %q", errs.ErrInvalid, role)
	}

	ids := append([]uuid.UUID{primaryID}, others...)
	txns, err := s.loadAll(ctx, userID, ids)
	if err != nil {
		return GroupView{}, err
	}
	if err := s.checkUnlinked(ctx, ids); err != nil {
		return GroupView{}, err
	}
	if err := checkSingleCurrency(txns); err != nil {
		return GroupView{}, err
	}

	groupID := uuid.New()
	rows := make([]ledger.LinkMembership, 0, len(ids))
	rows = append(rows, ledger.LinkMembership{TransactionID: primaryID, GroupID: groupID, Role: ledger.LinkRolePrimary})
	for _, id := range others {
		rows = append(rows, ledger.LinkMembership{TransactionID: id, GroupID: groupID, Role: role})
	}
	if err := s.writer.PutMemberships(ctx, rows); err != nil {
		return GroupView{}, err
	}
	return s.view(ctx, userID, groupID)
}

// BulkLink groups the given transactions, electing the one with the largest
// absolute amount as primary. When the primary is an expense the rest become
// reimbursements, otherwise additional expenses.
func (s *service) BulkLink(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (GroupView, error) {
	if userID == uuid.Nil {
		return GroupView{}, errs.ErrInvalid
	}
	if len(ids) < 2 {
		return GroupView{}, fmt.Errorf("%w: bulk link needs at least two transactions", errs.ErrInvalid)
	}
	txns, err := s.loadAll(ctx, userID, ids)
	if err != nil {
		return GroupView{}, err
	}
	primary := txns[0]
	for _, t := range txns[1:] {
		if abs64(t.AmountMinor()) > abs64(primary.AmountMinor()) {
			primary = t
		}
	}
	role := ledger.LinkRoleExpense
	if primary.AmountMinor() < 0 {
		role = ledger.LinkRoleReimbursement
	}
	others := make([]uuid.UUID, 0, len(txns)-1)
	for _, t := range txns {
		if t.ID != primary.ID {
			others = append(others, t.ID)
		}
	}
	return s.CreateGroup(ctx, userID, primary.ID, others, role)
}

// AddMember attaches one more transaction to an existing group.
func (s *service) AddMember(ctx context.Context, userID, groupID, transactionID uuid.UUID, role ledger.LinkRole) (GroupView, error) {
	if userID == uuid.Nil || groupID == uuid.Nil || transactionID == uuid.Nil {
		return GroupView{}, errs.ErrInvalid
	}
	if role != ledger.LinkRoleReimbursement && role != ledger.LinkRoleExpense {
		return GroupView{}, fmt.Errorf("%w: unsupported link role %q", errs.ErrInvalid, role)
	}
	members, err := s.repo.GroupMembers(ctx, groupID)
	if err != nil {
		return GroupView{}, err
	}
	if len(members) == 0 {
		return GroupView{}, errs.ErrNotFound
	}
	txn, err := s.repo.Transaction(ctx, userID, transactionID)
	if err != nil {
		return GroupView{}, err
	}
	if err := s.checkUnlinked(ctx, []uuid.UUID{transactionID}); err != nil {
		return GroupView{}, err
	}
	existing, err := s.memberTransactions(ctx, userID, members)
	if err != nil {
		return GroupView{}, err
	}
	if err := checkSingleCurrency(append(existing, txn)); err != nil {
		return GroupView{}, err
	}
	row := ledger.LinkMembership{TransactionID: transactionID, GroupID: groupID, Role: role}
	if err := s.writer.PutMemberships(ctx, []ledger.LinkMembership{row}); err != nil {
		return GroupView{}, err
	}
	return s.view(ctx, userID, groupID)
}

// RemoveMember detaches a transaction from its group. Removing the primary, or
// leaving fewer than two members, dissolves the whole group; the second return
// reports whether the group survived.
func (s *service) RemoveMember(ctx context.Context, userID, transactionID uuid.UUID) (GroupView, bool, error) {
	if userID == uuid.Nil || transactionID == uuid.Nil {
		return GroupView{}, false, errs.ErrInvalid
	}
	row, ok, err := s.repo.Membership(ctx, transactionID)
	if err != nil {
		return GroupView{}, false, err
	}
	if !ok {
		return GroupView{}, false, errs.ErrNotFound
	}
	if _, err := s.repo.Transaction(ctx, userID, transactionID); err != nil {
		return GroupView{}, false, err
	}
	members, err := s.repo.GroupMembers(ctx, row.GroupID)
	if err != nil {
		return GroupView{}, false, err
	}
	if row.Role == ledger.LinkRolePrimary || len(members) <= 2 {
		if err := s.writer.DeleteGroup(ctx, row.GroupID); err != nil {
			return GroupView{}, false, err
		}
		return GroupView{}, false, nil
	}
	if err := s.writer.DeleteMembership(ctx, transactionID); err != nil {
		return GroupView{}, false, err
	}
	view, err := s.view(ctx, userID, row.GroupID)
	if err != nil {
		return GroupView{}, false, err
	}
	return view, true, nil
}

// Dissolve removes every membership of a group. The transactions themselves
// are untouched.
func (s *service) Dissolve(ctx context.Context, userID, groupID uuid.UUID) error {
	if userID == uuid.Nil || groupID == uuid.Nil {
		return errs.ErrInvalid
	}
	members, err := s.repo.GroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return errs.ErrNotFound
	}
	// Ownership check through any member transaction.
	if _, err := s.repo.Transaction(ctx, userID, members[0].TransactionID); err != nil {
		return err
	}
	return s.writer.DeleteGroup(ctx, groupID)
}

// Group resolves the group a transaction belongs to. The second return is
// false when the transaction is unlinked.
func (s *service) Group(ctx context.Context, userID, transactionID uuid.UUID) (GroupView, bool, error) {
	if userID == uuid.Nil || transactionID == uuid.Nil {
		return GroupView{}, false, errs.ErrInvalid
	}
	row, ok, err := s.repo.Membership(ctx, transactionID)
	if err != nil {
		return GroupView{}, false, err
	}
	if !ok {
		return GroupView{}, false, nil
	}
	view, err := s.view(ctx, userID, row.GroupID)
	if err != nil {
		return GroupView{}, false, err
	}
	return view, true, nil
}

func (s *service) loadAll(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]ledger.Transaction, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return nil, errs.ErrInvalid
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate transaction in request", errs.ErrInvalid)
		}
		seen[id] = struct{}{}
	}
	txns, err := s.repo.TransactionsByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	if len(txns) != len(ids) {
		return nil, errs.ErrNotFound
	}
	return txns, nil
}

func (s *service) checkUnlinked(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if _, ok, err := s.repo.Membership(ctx, id); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: transaction %s already belongs to a group", errs.ErrAlreadyLinked, id)
		}
	}
	return nil
}

func (s *service) memberTransactions(ctx context.Context, userID uuid.UUID, members []ledger.LinkMembership) ([]ledger.Transaction, error) {
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.TransactionID)
	}
	return s.repo.TransactionsByIDs(ctx, userID, ids)
}

func (s *service) view(ctx context.Context, userID, groupID uuid.UUID) (GroupView, error) {
	members, err := s.repo.GroupMembers(ctx, groupID)
	if err != nil {
		return GroupView{}, err
	}
	if len(members) == 0 {
		return GroupView{}, errs.ErrNotFound
	}
	txns, err := s.memberTransactions(ctx, userID, members)
	if err != nil {
		return GroupView{}, err
	}
	byID := make(map[uuid.UUID]ledger.Transaction, len(txns))
	for _, t := range txns {
		byID[t.ID] = t
	}

	view := GroupView{GroupID: groupID, Roles: make(map[uuid.UUID]ledger.LinkRole, len(members))}
	for _, m := range members {
		t, ok := byID[m.TransactionID]
		if !ok {
			return GroupView{}, errs.ErrNotFound
		}
		view.Roles[m.TransactionID] = m.Role
		view.NetMinor += t.AmountMinor()
		if m.Role == ledger.LinkRolePrimary {
			view.Primary = t
		} else {
			view.Others = append(view.Others, t)
		}
	}
	sort.Slice(view.Others, func(i, j int) bool { return view.Others[i].BookedAt.Before(view.Others[j].BookedAt) })
	view.Currency = view.Primary.Currency()
	net, err := money.NewAmountFromMinorUnits(view.Currency, view.NetMinor)
	if err != nil {
		return GroupView{}, err
	}
	view.Net = net
	return view, nil
}

func checkSingleCurrency(txns []ledger.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	curr := txns[0].Currency()
	for _, t := range txns[1:] {
		if t.Currency() != curr {
			return fmt.Errorf("%w: group members must share one currency", errs.ErrMixedCurrency)
		}
	}
	return nil
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
