package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"ticket-resale/internal/services/gateway"
	"ticket-resale/internal/status"
	"ticket-resale/internal/store"
	"ticket-resale/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview_EarningsBreakdown(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "150.00")

	q, err := f.transactions.Preview(context.Background(), buyerID, tk.ID)
	require.NoError(t, err)

	assert.True(t, q.Earnings.CommissionAmount.Equal(decimal.RequireFromString("7.50")))
	assert.True(t, q.Earnings.SellerEarnings.Equal(decimal.RequireFromString("142.50")))
	assert.True(t, q.Earnings.CommissionAmount.Add(q.Earnings.SellerEarnings).Equal(q.Earnings.TransactionAmount))
	assert.Equal(t, tk.ID, q.Ticket.ID)
	assert.Equal(t, []models.Method{models.MethodCash, models.MethodBankTransfer, models.MethodCreditCard}, q.Methods)

	// read-only
	assert.Equal(t, models.TicketAvailable, f.mustTicket(t, tk.ID).Status)
}

func TestPreview_OffersWalletWhenGatewayConfigured(t *testing.T) {
	f := newFixture(t, withGateway())
	tk := f.ticket(t, "10")

	q, err := f.transactions.Preview(context.Background(), buyerID, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CanonicalMethods, q.Methods)
}

func TestPreview_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "10")

	_, err := f.transactions.Preview(ctx, buyerID, 0)
	assert.ErrorIs(t, err, status.ErrValidation)

	_, err = f.transactions.Preview(ctx, buyerID, 999)
	assert.ErrorIs(t, err, status.ErrNotFound)

	_, err = f.transactions.Preview(ctx, sellerID, tk.ID)
	assert.ErrorIs(t, err, status.ErrValidation)

	f.store.UpdateTicket(ctx, tk.ID, func(t *models.Ticket) error {
		t.Status = models.TicketSold
		return nil
	})
	_, err = f.transactions.Preview(ctx, buyerID, tk.ID)
	assert.ErrorIs(t, err, status.ErrConflict)
}

func TestBuy_CashSucceedsAndTransfersOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "150.00")

	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash})
	require.NoError(t, err)

	assert.Equal(t, models.TransactionSuccess, res.Status)
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("150")))
	assert.True(t, res.CommissionAmount.Equal(decimal.RequireFromString("7.5")))
	assert.True(t, res.SellerEarnings.Equal(decimal.RequireFromString("142.5")))

	sold := f.mustTicket(t, tk.ID)
	assert.Equal(t, models.TicketSold, sold.Status)
	assert.Equal(t, buyerID, sold.OwnerID)

	txn := f.mustTransaction(t, res.TransactionID)
	assert.Equal(t, models.TransactionSuccess, txn.Status)
	assert.NotNil(t, txn.ResolvedAt)
	assert.Regexp(t, `^CASH_[0-9A-F]{8}$`, txn.Reference)

	p, err := f.store.GetPayment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, p.Status)
	assert.NotNil(t, p.PaidAt)

	earnings, err := f.store.ListEarningsBySeller(ctx, sellerID)
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.True(t, earnings[0].Net.Equal(decimal.RequireFromString("142.50")))

	f.notifier.Shutdown()
	assert.ElementsMatch(t, []string{"user-2", "user-1"}, f.publisher.channels())
}

func TestBuy_FailedPaymentReleasesTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "20")

	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodBankTransfer})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, res.Status)
	assert.Contains(t, res.Message, "confirmation_code")

	assert.Equal(t, models.TicketAvailable, f.mustTicket(t, tk.ID).Status)
	assert.Equal(t, models.TransactionFailed, f.mustTransaction(t, res.TransactionID).Status)

	// retry creates a new transaction
	retry, err := f.transactions.Buy(ctx, buyerID, BuyRequest{
		TicketID:      tk.ID,
		PaymentMethod: models.MethodBankTransfer,
		PaymentData:   models.PaymentData{"confirmation_code": "VCB-778812"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionSuccess, retry.Status)
	assert.NotEqual(t, res.TransactionID, retry.TransactionID)
	assert.Equal(t, "VCB-778812", f.mustTransaction(t, retry.TransactionID).Reference)
}

func TestBuy_CreditCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok := f.ticket(t, "30")
	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: ok.ID, PaymentMethod: models.MethodCreditCard, PaymentData: validCard()})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionSuccess, res.Status)

	bad := f.ticket(t, "30")
	card := validCard()
	card["card_number"] = "4111111111111112"
	res, err = f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: bad.ID, PaymentMethod: models.MethodCreditCard, PaymentData: card})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, res.Status)
	assert.Equal(t, models.TicketAvailable, f.mustTicket(t, bad.ID).Status)
}

func TestBuy_WalletIsPendingAndHoldsTicket(t *testing.T) {
	f := newFixture(t, withGateway())
	ctx := context.Background()
	tk := f.ticket(t, "150000")

	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{
		TicketID:      tk.ID,
		PaymentMethod: models.MethodMomo,
		PaymentData:   models.PaymentData{"bank_code": "VCB"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.TransactionPending, res.Status)
	assert.NotEmpty(t, res.PaymentURL)
	assert.Nil(t, res.TotalAmount)

	txn := f.mustTransaction(t, res.TransactionID)
	assert.Equal(t, models.MethodDigitalWallet, txn.PaymentMethod)
	assert.Equal(t, models.TicketReserved, f.mustTicket(t, tk.ID).Status)

	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, "VCB", f.gateway.requests[0].BankCode)
	assert.Equal(t, res.PaymentID, f.gateway.requests[0].PaymentID)

	_, err = f.transactions.Buy(ctx, otherID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash})
	assert.ErrorIs(t, err, status.ErrConflict)
}

func TestBuy_GatewayFailureFailsTransaction(t *testing.T) {
	f := newFixture(t, withGateway())
	f.gateway.err = errors.New("momo unavailable: " + status.ErrGateway.Error())
	tk := f.ticket(t, "100")

	res, err := f.transactions.Buy(context.Background(), buyerID, BuyRequest{
		TicketID:      tk.ID,
		PaymentMethod: models.MethodDigitalWallet,
		PaymentData:   models.PaymentData{"wallet_type": "momo"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, res.Status)
	assert.Equal(t, models.TicketAvailable, f.mustTicket(t, tk.ID).Status)
}

func TestBuy_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "10")

	_, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: "Bitcoin"})
	assert.ErrorIs(t, err, status.ErrValidation)

	// no gateway configured
	_, err = f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodDigitalWallet})
	assert.ErrorIs(t, err, status.ErrValidation)

	_, err = f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: 404, PaymentMethod: models.MethodCash})
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestBuy_ConcurrentBuyersOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			res, err := f.transactions.Buy(context.Background(), buyer, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == models.TransactionSuccess:
				wins++
			case errors.Is(err, status.ErrConflict):
				conflicts++
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, conflicts)
}

func TestInitiateThenProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "45.50")

	_, err := f.transactions.Initiate(ctx, buyerID, InitiateRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash, Amount: decimal.RequireFromString("40")})
	assert.ErrorIs(t, err, status.ErrValidation)

	init, err := f.transactions.Initiate(ctx, buyerID, InitiateRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash, Amount: decimal.RequireFromString("45.5")})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, init.Status)
	assert.Equal(t, "/api/payments/1/process", init.RedirectURL)
	assert.Equal(t, models.TicketReserved, f.mustTicket(t, tk.ID).Status)

	_, err = f.payments.Process(ctx, otherID, init.PaymentID, nil)
	assert.ErrorIs(t, err, status.ErrForbidden)

	out, err := f.payments.Process(ctx, buyerID, init.PaymentID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSuccess, out.Status)
	assert.Equal(t, models.TransactionSuccess, f.mustTransaction(t, init.TransactionID).Status)

	_, err = f.payments.Process(ctx, buyerID, init.PaymentID, nil)
	assert.ErrorIs(t, err, status.ErrConflict)
}

func TestCallback(t *testing.T) {
	f := newFixture(t, withGateway())
	ctx := context.Background()
	tk := f.ticket(t, "80")

	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodDigitalWallet})
	require.NoError(t, err)
	require.Equal(t, models.TransactionPending, res.Status)

	txn, err := f.transactions.Callback(ctx, CallbackRequest{TransactionID: res.TransactionID, Status: models.TransactionPending})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, txn.Status)

	txn, err = f.transactions.Callback(ctx, CallbackRequest{TransactionID: res.TransactionID, Status: models.TransactionSuccess, PaymentTransactionID: "GW-1"})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionSuccess, txn.Status)
	assert.Equal(t, "GW-1", txn.Reference)
	assert.Equal(t, models.TicketSold, f.mustTicket(t, tk.ID).Status)

	// same outcome again is acknowledged
	_, err = f.transactions.Callback(ctx, CallbackRequest{TransactionID: res.TransactionID, Status: models.TransactionSuccess})
	assert.NoError(t, err)

	earnings, _ := f.store.ListEarningsBySeller(ctx, sellerID)
	assert.Len(t, earnings, 1, "earning recorded once")

	_, err = f.transactions.Callback(ctx, CallbackRequest{TransactionID: res.TransactionID, Status: models.TransactionFailed})
	assert.ErrorIs(t, err, status.ErrConflict)
	assert.ErrorIs(t, err, status.ErrInvalidTransition)

	_, err = f.transactions.Callback(ctx, CallbackRequest{TransactionID: res.TransactionID, Status: "done"})
	assert.ErrorIs(t, err, status.ErrValidation)

	_, err = f.transactions.Callback(ctx, CallbackRequest{TransactionID: 999, Status: models.TransactionFailed})
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestStatusVisibilityAndEarnings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, "150.00")

	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash})
	require.NoError(t, err)

	view, err := f.transactions.Status(ctx, buyerID, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionSuccess, view.Status)
	require.NotNil(t, view.Earnings)
	assert.True(t, view.Earnings.CommissionAmount.Equal(decimal.RequireFromString("7.50")))

	_, err = f.transactions.Status(ctx, sellerID, res.TransactionID)
	assert.NoError(t, err)

	_, err = f.transactions.Status(ctx, otherID, res.TransactionID)
	assert.ErrorIs(t, err, status.ErrForbidden)

	detail, err := f.transactions.Detail(ctx, buyerID, res.TransactionID)
	require.NoError(t, err)
	assert.Len(t, detail.Payments, 1)

	list, err := f.transactions.List(ctx, sellerID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, withGateway())
	ctx := context.Background()
	tk := f.ticket(t, "60")

	res, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodDigitalWallet})
	require.NoError(t, err)

	_, err = f.transactions.Cancel(ctx, sellerID, res.TransactionID)
	assert.ErrorIs(t, err, status.ErrForbidden)

	txn, err := f.transactions.Cancel(ctx, buyerID, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCancelled, txn.Status)
	assert.Equal(t, models.TicketAvailable, f.mustTicket(t, tk.ID).Status)

	p, err := f.store.GetPayment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, p.Status)

	_, err = f.transactions.Cancel(ctx, buyerID, res.TransactionID)
	assert.ErrorIs(t, err, status.ErrConflict)
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t, withGateway())
	ctx := context.Background()
	old := f.ticket(t, "10")
	fresh := f.ticket(t, "10")

	oldRes, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: old.ID, PaymentMethod: models.MethodDigitalWallet})
	require.NoError(t, err)
	f.store.UpdateTransaction(ctx, oldRes.TransactionID, func(t *models.Transaction) error {
		t.CreatedAt = time.Now().Add(-2 * time.Hour)
		return nil
	})
	freshRes, err := f.transactions.Buy(ctx, buyerID, BuyRequest{TicketID: fresh.ID, PaymentMethod: models.MethodDigitalWallet})
	require.NoError(t, err)

	n, err := f.transactions.ExpirePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, models.TransactionCancelled, f.mustTransaction(t, oldRes.TransactionID).Status)
	assert.Equal(t, models.TicketAvailable, f.mustTicket(t, old.ID).Status)
	assert.Equal(t, models.TransactionPending, f.mustTransaction(t, freshRes.TransactionID).Status)

	count, err := f.transactions.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReaperDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	r := NewReaper(f.transactions, 0, 0)
	assert.False(t, r.Enabled())

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled reaper should return immediately")
	}
}

func TestBuy_CleanupFailuresAreLogged(t *testing.T) {
	logs := captureLogs(t)

	st := &flakyStore{MemoryStore: store.NewMemoryStore(), failCreateTransaction: true, failUnlock: true}
	payments := NewPaymentService(st, NewProcessor(gateway.NewRegistry()), nil, decimal.RequireFromString("0.05"), nil)
	transactions := NewTransactionService(st, payments)

	tk := &models.Ticket{EventName: "Rock Night", Price: decimal.NewFromInt(150), Status: models.TicketAvailable, OwnerID: sellerID}
	require.NoError(t, st.CreateTicket(context.Background(), tk))

	_, err := transactions.Buy(context.Background(), buyerID, BuyRequest{TicketID: tk.ID, PaymentMethod: models.MethodCash})
	assert.ErrorIs(t, err, errStoreDown)

	got, err := st.GetTicket(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, got.Status)
	assert.Contains(t, logs.String(), "failed to release ticket lock")
	assert.Contains(t, logs.String(), "ticket_id="+strconv.FormatInt(tk.ID, 10))
}
