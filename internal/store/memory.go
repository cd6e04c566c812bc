package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ticket-resale/internal/status"
	"ticket-resale/models"
)

type MemoryStore struct {
	mu           sync.RWMutex
	seq          map[string]int64
	users        map[int64]models.User
	emails       map[string]int64
	tickets      map[int64]models.Ticket
	locks        map[int64]int64
	transactions map[int64]models.Transaction
	payments     map[int64]models.Payment
	earnings     map[int64]models.Earning
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:          make(map[string]int64),
		users:        make(map[int64]models.User),
		emails:       make(map[string]int64),
		tickets:      make(map[int64]models.Ticket),
		locks:        make(map[int64]int64),
		transactions: make(map[int64]models.Transaction),
		payments:     make(map[int64]models.Payment),
		earnings:     make(map[int64]models.Earning),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) NextID(_ context.Context, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next(kind), nil
}

func (s *MemoryStore) next(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

// assign keeps the sequence ahead of explicitly provided ids.
func (s *MemoryStore) assign(kind string, id *int64) {
	if *id == 0 {
		*id = s.next(kind)
		return
	}
	if *id > s.seq[kind] {
		s.seq[kind] = *id
	}
}

// Users

func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := s.emails[email]; ok {
		return fmt.Errorf("email %s already registered: %w", u.Email, status.ErrConflict)
	}
	s.assign(KindUser, &u.ID)
	s.users[u.ID] = *u
	s.emails[email] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, notFound(KindUser, id)
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.emails[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(KindUser, email)
	}
	return s.GetUser(ctx, id)
}

// Tickets

func (s *MemoryStore) CreateTicket(_ context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assign(KindTicket, &t.ID)
	s.tickets[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, id int64) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, notFound(KindTicket, id)
	}
	return &t, nil
}

func (s *MemoryStore) UpdateTicket(_ context.Context, id int64, fn func(*models.Ticket) error) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, notFound(KindTicket, id)
	}
	if err := fn(&t); err != nil {
		return nil, err
	}
	t.ID = id
	s.tickets[id] = t
	return &t, nil
}

func (s *MemoryStore) DeleteTicket(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[id]; !ok {
		return notFound(KindTicket, id)
	}
	delete(s.tickets, id)
	delete(s.locks, id)
	return nil
}

func (s *MemoryStore) ListTickets(_ context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if filter.match(&t) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LockTicket(_ context.Context, ticketID, transactionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, ok := s.locks[ticketID]; ok {
		return fmt.Errorf("ticket %d held by transaction %d: %w", ticketID, holder, status.ErrConflict)
	}
	s.locks[ticketID] = transactionID
	return nil
}

func (s *MemoryStore) UnlockTicket(_ context.Context, ticketID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, ticketID)
	return nil
}

// Transactions

func (s *MemoryStore) CreateTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assign(KindTransaction, &t.ID)
	s.transactions[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, notFound(KindTransaction, id)
	}
	return &t, nil
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, id int64, fn func(*models.Transaction) error) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, notFound(KindTransaction, id)
	}
	if err := fn(&t); err != nil {
		return nil, err
	}
	t.ID = id
	s.transactions[id] = t
	return &t, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID int64) ([]*models.Transaction, error) {
	return s.filterTransactions(func(t *models.Transaction) bool { return t.Involves(userID) }), nil
}

func (s *MemoryStore) ListPendingTransactions(_ context.Context) ([]*models.Transaction, error) {
	return s.filterTransactions(func(t *models.Transaction) bool {
		return t.Status == models.TransactionPending
	}), nil
}

func (s *MemoryStore) filterTransactions(keep func(*models.Transaction) bool) []*models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transaction
	for _, t := range s.transactions {
		if keep(&t) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Payments

func (s *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assign(KindPayment, &p.ID)
	s.payments[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id int64) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, notFound(KindPayment, id)
	}
	return &p, nil
}

func (s *MemoryStore) UpdatePayment(_ context.Context, id int64, fn func(*models.Payment) error) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, notFound(KindPayment, id)
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	p.ID = id
	s.payments[id] = p
	return &p, nil
}

func (s *MemoryStore) ListPaymentsByUser(_ context.Context, userID int64) ([]*models.Payment, error) {
	return s.filterPayments(func(p *models.Payment) bool { return p.UserID == userID }), nil
}

func (s *MemoryStore) ListPaymentsByTransaction(_ context.Context, transactionID int64) ([]*models.Payment, error) {
	return s.filterPayments(func(p *models.Payment) bool { return p.TransactionID == transactionID }), nil
}

func (s *MemoryStore) filterPayments(keep func(*models.Payment) bool) []*models.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Payment
	for _, p := range s.payments {
		if keep(&p) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Earnings

func (s *MemoryStore) CreateEarning(_ context.Context, e *models.Earning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assign(KindEarning, &e.ID)
	s.earnings[e.ID] = *e
	return nil
}

func (s *MemoryStore) ListEarningsBySeller(_ context.Context, sellerID int64) ([]*models.Earning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Earning
	for _, e := range s.earnings {
		if e.SellerID == sellerID {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
