package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"ticket-resale/internal/status"
	"ticket-resale/models"

	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 10

// Redis key layout.
func ticketKey(id int64) string      { return fmt.Sprintf("ticket:%d", id) }
func ticketLockKey(id int64) string  { return fmt.Sprintf("ticket:%d:pending", id) }
func transactionKey(id int64) string { return fmt.Sprintf("transaction:%d", id) }
func paymentKey(id int64) string     { return fmt.Sprintf("payment:%d", id) }
func userKey(id int64) string        { return fmt.Sprintf("user:%d", id) }
func earningKey(id int64) string     { return fmt.Sprintf("earning:%d", id) }
func seqKey(kind string) string      { return "seq:" + kind }
func emailKey(email string) string   { return "user:email:" + strings.ToLower(email) }

const (
	ticketsIndex        = "tickets"
	pendingTransactions = "transactions:pending"
)

func userTransactionsKey(userID int64) string { return fmt.Sprintf("transactions:user:%d", userID) }
func userPaymentsKey(userID int64) string     { return fmt.Sprintf("payments:user:%d", userID) }
func txnPaymentsKey(txnID int64) string       { return fmt.Sprintf("payments:transaction:%d", txnID) }
func sellerEarningsKey(id int64) string       { return fmt.Sprintf("earnings:seller:%d", id) }

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

// userRecord carries the password hash, which models.User never serializes.
type userRecord struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

func (s *RedisStore) NextID(ctx context.Context, kind string) (int64, error) {
	id, err := s.rdb.Incr(ctx, seqKey(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", kind, err)
	}
	return id, nil
}

func (s *RedisStore) ensureID(ctx context.Context, kind string, id *int64) error {
	if *id != 0 {
		return nil
	}
	next, err := s.NextID(ctx, kind)
	if err != nil {
		return err
	}
	*id = next
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, kind, key string, id any, v any) error {
	data, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return notFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// update is an optimistic read-modify-write on one key, retried while
// another writer touches the key between WATCH and EXEC.
func (s *RedisStore) update(ctx context.Context, kind, key string, id int64, v any, modify func() error, extra func(redis.Pipeliner)) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return notFound(kind, id)
		}
		if err != nil {
			return err
		}
		if err := decodeFresh([]byte(data), v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if err := modify(); err != nil {
			return err
		}
		encoded, err := marshal(v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention: %w", key, status.ErrConflict)
}

// decodeFresh zeroes the value v points to before decoding into it, so a
// retried transaction never sees fields left over from the failed attempt.
func decodeFresh(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", v)
	}
	rv.Elem().SetZero()
	return json.Unmarshal(data, v)
}

func (s *RedisStore) loadAll(ctx context.Context, index string, newItem func() any, keyOf func(int64) string) ([]any, error) {
	members, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", index, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, keyOf(id))
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", index, err)
	}

	out := make([]any, 0, len(values))
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			// stale index entry
			continue
		}
		item := newItem()
		if err := json.Unmarshal([]byte(str), item); err != nil {
			return nil, fmt.Errorf("decode %s entry: %w", index, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Users

func (s *RedisStore) CreateUser(ctx context.Context, u *models.User) error {
	if err := s.ensureID(ctx, KindUser, &u.ID); err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, emailKey(u.Email), u.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve email: %w", err)
	}
	if !ok {
		return fmt.Errorf("email %s already registered: %w", u.Email, status.ErrConflict)
	}

	doc, err := marshal(userRecord{User: *u, PasswordHash: u.PasswordHash})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, userKey(u.ID), doc, 0).Err(); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *RedisStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var rec userRecord
	if err := s.getJSON(ctx, KindUser, userKey(id), id, &rec); err != nil {
		return nil, err
	}
	u := rec.User
	u.PasswordHash = rec.PasswordHash
	return &u, nil
}

func (s *RedisStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	id, err := s.rdb.Get(ctx, emailKey(email)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(KindUser, email)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	return s.GetUser(ctx, id)
}

// Tickets

func (s *RedisStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if err := s.ensureID(ctx, KindTicket, &t.ID); err != nil {
		return err
	}
	doc, err := marshal(t)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ticketKey(t.ID), doc, 0)
		pipe.SAdd(ctx, ticketsIndex, t.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	var t models.Ticket
	if err := s.getJSON(ctx, KindTicket, ticketKey(id), id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) UpdateTicket(ctx context.Context, id int64, fn func(*models.Ticket) error) (*models.Ticket, error) {
	var t models.Ticket
	err := s.update(ctx, KindTicket, ticketKey(id), id, &t, func() error {
		if err := fn(&t); err != nil {
			return err
		}
		t.ID = id
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) DeleteTicket(ctx context.Context, id int64) error {
	n, err := s.rdb.Del(ctx, ticketKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if n == 0 {
		return notFound(KindTicket, id)
	}
	s.rdb.SRem(ctx, ticketsIndex, id)
	s.rdb.Del(ctx, ticketLockKey(id))
	return nil
}

func (s *RedisStore) ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	items, err := s.loadAll(ctx, ticketsIndex, func() any { return new(models.Ticket) }, ticketKey)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Ticket, 0, len(items))
	for _, item := range items {
		t := item.(*models.Ticket)
		if filter.match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) LockTicket(ctx context.Context, ticketID, transactionID int64) error {
	ok, err := s.rdb.SetNX(ctx, ticketLockKey(ticketID), transactionID, 0).Result()
	if err != nil {
		return fmt.Errorf("lock ticket %d: %w", ticketID, err)
	}
	if !ok {
		return fmt.Errorf("ticket %d already has a pending transaction: %w", ticketID, status.ErrConflict)
	}
	return nil
}

func (s *RedisStore) UnlockTicket(ctx context.Context, ticketID int64) error {
	if err := s.rdb.Del(ctx, ticketLockKey(ticketID)).Err(); err != nil {
		return fmt.Errorf("unlock ticket %d: %w", ticketID, err)
	}
	return nil
}

// Transactions

func (s *RedisStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if err := s.ensureID(ctx, KindTransaction, &t.ID); err != nil {
		return err
	}
	doc, err := marshal(t)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, transactionKey(t.ID), doc, 0)
		pipe.SAdd(ctx, userTransactionsKey(t.BuyerID), t.ID)
		pipe.SAdd(ctx, userTransactionsKey(t.SellerID), t.ID)
		if t.Status == models.TransactionPending {
			pipe.SAdd(ctx, pendingTransactions, t.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	var t models.Transaction
	if err := s.getJSON(ctx, KindTransaction, transactionKey(id), id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) UpdateTransaction(ctx context.Context, id int64, fn func(*models.Transaction) error) (*models.Transaction, error) {
	var t models.Transaction
	err := s.update(ctx, KindTransaction, transactionKey(id), id, &t, func() error {
		if err := fn(&t); err != nil {
			return err
		}
		t.ID = id
		return nil
	}, func(pipe redis.Pipeliner) {
		if t.Status != models.TransactionPending {
			pipe.SRem(ctx, pendingTransactions, id)
		}
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) ListTransactionsByUser(ctx context.Context, userID int64) ([]*models.Transaction, error) {
	return s.listTransactions(ctx, userTransactionsKey(userID))
}

func (s *RedisStore) ListPendingTransactions(ctx context.Context) ([]*models.Transaction, error) {
	txns, err := s.listTransactions(ctx, pendingTransactions)
	if err != nil {
		return nil, err
	}
	out := txns[:0]
	for _, t := range txns {
		if t.Status == models.TransactionPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *RedisStore) listTransactions(ctx context.Context, index string) ([]*models.Transaction, error) {
	items, err := s.loadAll(ctx, index, func() any { return new(models.Transaction) }, transactionKey)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Transaction, 0, len(items))
	for _, item := range items {
		out = append(out, item.(*models.Transaction))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Payments

func (s *RedisStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	if err := s.ensureID(ctx, KindPayment, &p.ID); err != nil {
		return err
	}
	doc, err := marshal(p)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, paymentKey(p.ID), doc, 0)
		pipe.SAdd(ctx, userPaymentsKey(p.UserID), p.ID)
		pipe.SAdd(ctx, txnPaymentsKey(p.TransactionID), p.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}

func (s *RedisStore) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	if err := s.getJSON(ctx, KindPayment, paymentKey(id), id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) UpdatePayment(ctx context.Context, id int64, fn func(*models.Payment) error) (*models.Payment, error) {
	var p models.Payment
	err := s.update(ctx, KindPayment, paymentKey(id), id, &p, func() error {
		if err := fn(&p); err != nil {
			return err
		}
		p.ID = id
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) ListPaymentsByUser(ctx context.Context, userID int64) ([]*models.Payment, error) {
	return s.listPayments(ctx, userPaymentsKey(userID))
}

func (s *RedisStore) ListPaymentsByTransaction(ctx context.Context, transactionID int64) ([]*models.Payment, error) {
	return s.listPayments(ctx, txnPaymentsKey(transactionID))
}

func (s *RedisStore) listPayments(ctx context.Context, index string) ([]*models.Payment, error) {
	items, err := s.loadAll(ctx, index, func() any { return new(models.Payment) }, paymentKey)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Payment, 0, len(items))
	for _, item := range items {
		out = append(out, item.(*models.Payment))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Earnings

func (s *RedisStore) CreateEarning(ctx context.Context, e *models.Earning) error {
	if err := s.ensureID(ctx, KindEarning, &e.ID); err != nil {
		return err
	}
	doc, err := marshal(e)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, earningKey(e.ID), doc, 0)
		pipe.SAdd(ctx, sellerEarningsKey(e.SellerID), e.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save earning: %w", err)
	}
	return nil
}

func (s *RedisStore) ListEarningsBySeller(ctx context.Context, sellerID int64) ([]*models.Earning, error) {
	items, err := s.loadAll(ctx, sellerEarningsKey(sellerID), func() any { return new(models.Earning) }, earningKey)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Earning, 0, len(items))
	for _, item := range items {
		out = append(out, item.(*models.Earning))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
