/**
 * @description
 * In-memory Store used for local development (STORE_DRIVER=memory) and by the
 * application tests. A single mutex serialises read-write units of work, and
 * every mutation records an undo step so a failed unit of work leaves no trace.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

var errReadOnlyTx = fmt.Errorf("%w: write attempted in read-only unit of work", domain.ErrStorage)

// MemoryStore keeps every table in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	instruments  map[domain.InstrumentKind]map[uuid.UUID]domain.Instrument
	transactions map[uuid.UUID]domain.Transaction
	users        map[uuid.UUID]domain.User
	seq          int64
	now          func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		instruments:  make(map[domain.InstrumentKind]map[uuid.UUID]domain.Instrument),
		transactions: make(map[uuid.UUID]domain.Transaction),
		users:        make(map[uuid.UUID]domain.User),
		now:          time.Now,
	}
	for _, kind := range domain.InstrumentKinds {
		s.instruments[kind] = make(map[uuid.UUID]domain.Instrument)
	}
	return s
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) ReadOnly(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s, readOnly: true})
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

type memTx struct {
	store    *MemoryStore
	undo     []func()
	readOnly bool
}

func (t *memTx) record(step func()) {
	t.undo = append(t.undo, step)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Instruments(kind domain.InstrumentKind) InstrumentStore {
	return &memInstruments{tx: t, kind: kind}
}

func (t *memTx) Ledger() Ledger { return &memLedger{tx: t} }

func (t *memTx) Users() UserStore { return &memUsers{tx: t} }

type memInstruments struct {
	tx   *memTx
	kind domain.InstrumentKind
}

func (m *memInstruments) table() (map[uuid.UUID]domain.Instrument, error) {
	rows, ok := m.tx.store.instruments[m.kind]
	if !ok {
		return nil, domain.Invalid("kind", "unknown instrument kind %q", m.kind)
	}
	return rows, nil
}

func (m *memInstruments) Get(ctx context.Context, id, ownerID uuid.UUID) (domain.Instrument, error) {
	rows, err := m.table()
	if err != nil {
		return domain.Instrument{}, err
	}
	inst, ok := rows[id]
	if !ok || inst.OwnerID != ownerID {
		return domain.Instrument{}, domain.NotFound(resourceName(m.kind), id)
	}
	return inst, nil
}

// Lock is Get: the store mutex already serialises the unit of work.
func (m *memInstruments) Lock(ctx context.Context, id, ownerID uuid.UUID) (domain.Instrument, error) {
	return m.Get(ctx, id, ownerID)
}

func (m *memInstruments) ApplyDelta(ctx context.Context, id uuid.UUID, field domain.BalanceField, delta decimal.Decimal) (domain.Instrument, error) {
	if m.tx.readOnly {
		return domain.Instrument{}, errReadOnlyTx
	}
	rows, err := m.table()
	if err != nil {
		return domain.Instrument{}, err
	}
	if field != m.kind.Field() {
		return domain.Instrument{}, fmt.Errorf("%w: field %s does not exist on %s", domain.ErrStorage, field, m.kind)
	}
	prev, ok := rows[id]
	if !ok {
		return domain.Instrument{}, domain.NotFound(resourceName(m.kind), id)
	}

	if err := prev.CheckDelta(field, delta); err != nil {
		return domain.Instrument{}, err
	}
	next := prev
	value := prev.Value(field).Add(delta)
	if field == domain.FieldCurrentDebt {
		next.CurrentDebt = value
	} else {
		next.Balance = value
	}
	next.UpdatedAt = m.tx.store.now().UTC()
	rows[id] = next
	m.tx.record(func() { rows[id] = prev })
	return next, nil
}

func (m *memInstruments) Create(ctx context.Context, inst domain.Instrument) (domain.Instrument, error) {
	if m.tx.readOnly {
		return domain.Instrument{}, errReadOnlyTx
	}
	rows, err := m.table()
	if err != nil {
		return domain.Instrument{}, err
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	inst.Kind = m.kind
	now := m.tx.store.now().UTC()
	inst.CreatedAt, inst.UpdatedAt = now, now
	rows[inst.ID] = inst
	id := inst.ID
	m.tx.record(func() { delete(rows, id) })
	return inst, nil
}

func (m *memInstruments) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error) {
	return m.list(func(inst domain.Instrument) bool { return inst.OwnerID == ownerID })
}

func (m *memInstruments) ListAll(ctx context.Context) ([]domain.Instrument, error) {
	return m.list(func(domain.Instrument) bool { return true })
}

func (m *memInstruments) list(keep func(domain.Instrument) bool) ([]domain.Instrument, error) {
	rows, err := m.table()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Instrument, 0, len(rows))
	for _, inst := range rows {
		if keep(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *memInstruments) UpdateDetails(ctx context.Context, id, ownerID uuid.UUID, details domain.InstrumentDetails) (domain.Instrument, error) {
	if m.tx.readOnly {
		return domain.Instrument{}, errReadOnlyTx
	}
	prev, err := m.Get(ctx, id, ownerID)
	if err != nil {
		return domain.Instrument{}, err
	}
	next := prev
	if details.Name != nil {
		next.Name = *details.Name
	}
	if details.Limit != nil && m.kind.IsLiability() {
		if details.Limit.LessThan(prev.CurrentDebt) {
			return domain.Instrument{}, domain.ErrLimitExceeded
		}
		next.Limit = *details.Limit
	}
	if m.kind == domain.KindLoan {
		if details.InterestRate != nil {
			next.InterestRate = *details.InterestRate
		}
		if details.TermMonths != nil {
			next.TermMonths = *details.TermMonths
		}
	}
	next.UpdatedAt = m.tx.store.now().UTC()

	rows, _ := m.table()
	rows[id] = next
	m.tx.record(func() { rows[id] = prev })
	return next, nil
}

func (m *memInstruments) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	if m.tx.readOnly {
		return errReadOnlyTx
	}
	prev, err := m.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	rows, _ := m.table()
	delete(rows, id)
	m.tx.record(func() { rows[id] = prev })
	return nil
}

type memLedger struct {
	tx *memTx
}

func (l *memLedger) rows() map[uuid.UUID]domain.Transaction {
	return l.tx.store.transactions
}

func (l *memLedger) Create(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if l.tx.readOnly {
		return domain.Transaction{}, errReadOnlyTx
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s := l.tx.store
	s.seq++
	t.Seq = s.seq
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	rows := l.rows()
	rows[t.ID] = t
	id := t.ID
	l.tx.record(func() { delete(rows, id) })
	return t, nil
}

func (l *memLedger) Get(ctx context.Context, id, ownerID uuid.UUID) (domain.Transaction, error) {
	t, ok := l.rows()[id]
	if !ok || t.OwnerID != ownerID {
		return domain.Transaction{}, domain.NotFound("transaction", id)
	}
	return t, nil
}

func (l *memLedger) Lock(ctx context.Context, id, ownerID uuid.UUID) (domain.Transaction, error) {
	return l.Get(ctx, id, ownerID)
}

func (l *memLedger) List(ctx context.Context, ownerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter = filter.Normalize()
	matched := make([]domain.Transaction, 0)
	for _, t := range l.rows() {
		if t.OwnerID == ownerID && filter.Matches(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}
		return matched[i].Seq < matched[j].Seq
	})
	if filter.Offset >= len(matched) {
		return []domain.Transaction{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (l *memLedger) Update(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if l.tx.readOnly {
		return domain.Transaction{}, errReadOnlyTx
	}
	prev, err := l.Get(ctx, t.ID, t.OwnerID)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Seq = prev.Seq
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = l.tx.store.now().UTC()

	rows := l.rows()
	rows[t.ID] = t
	l.tx.record(func() { rows[prev.ID] = prev })
	return t, nil
}

func (l *memLedger) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	if l.tx.readOnly {
		return errReadOnlyTx
	}
	prev, err := l.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	rows := l.rows()
	delete(rows, id)
	l.tx.record(func() { rows[id] = prev })
	return nil
}

func (l *memLedger) CountByInstrument(ctx context.Context, ref domain.InstrumentRef, ownerID uuid.UUID) (int, error) {
	count := 0
	for _, t := range l.rows() {
		if t.OwnerID == ownerID && t.References(ref) {
			count++
		}
	}
	return count, nil
}

func (l *memLedger) Totals(ctx context.Context, ref domain.InstrumentRef, ownerID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	in, out := decimal.Zero, decimal.Zero
	for _, t := range l.rows() {
		if t.OwnerID != ownerID {
			continue
		}
		if t.Destination != nil && *t.Destination == ref {
			in = in.Add(t.Amount)
		}
		if t.Source != nil && *t.Source == ref {
			out = out.Add(t.Amount)
		}
	}
	return in, out, nil
}

type memUsers struct {
	tx *memTx
}

func (u *memUsers) rows() map[uuid.UUID]domain.User {
	return u.tx.store.users
}

func (u *memUsers) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if u.tx.readOnly {
		return domain.User{}, errReadOnlyTx
	}
	for _, existing := range u.rows() {
		if strings.EqualFold(existing.Email, user.Email) {
			return domain.User{}, domain.ErrEmailTaken
		}
	}
	if user.PhoneNumber != nil {
		if inUse, _ := u.PhoneInUse(ctx, *user.PhoneNumber, uuid.Nil); inUse {
			return domain.User{}, domain.ErrPhoneTaken
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := u.tx.store.now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	rows := u.rows()
	rows[user.ID] = user
	id := user.ID
	u.tx.record(func() { delete(rows, id) })
	return user, nil
}

func (u *memUsers) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	user, ok := u.rows()[id]
	if !ok {
		return domain.User{}, domain.NotFound("user", id)
	}
	return user, nil
}

func (u *memUsers) Update(ctx context.Context, user domain.User) (domain.User, error) {
	if u.tx.readOnly {
		return domain.User{}, errReadOnlyTx
	}
	prev, err := u.GetByID(ctx, user.ID)
	if err != nil {
		return domain.User{}, err
	}
	if user.PhoneNumber != nil {
		if inUse, _ := u.PhoneInUse(ctx, *user.PhoneNumber, user.ID); inUse {
			return domain.User{}, domain.ErrPhoneTaken
		}
	}
	user.CreatedAt = prev.CreatedAt
	user.UpdatedAt = u.tx.store.now().UTC()

	rows := u.rows()
	rows[user.ID] = user
	u.tx.record(func() { rows[prev.ID] = prev })
	return user, nil
}

func (u *memUsers) PhoneInUse(ctx context.Context, phone string, excludeID uuid.UUID) (bool, error) {
	for id, existing := range u.rows() {
		if id != excludeID && existing.PhoneNumber != nil && *existing.PhoneNumber == phone {
			return true, nil
		}
	}
	return false, nil
}
