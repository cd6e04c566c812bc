// Package purchase drives a single ticket purchase from method selection to
// a receipt, polling the backend while a gateway payment is outstanding.
package purchase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ticket-resale/internal/client"
	"ticket-resale/internal/status"
	"ticket-resale/models"
	"ticket-resale/monitoring"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBusy is returned while another call of the same flow is in flight.
var ErrBusy = errors.New("purchase: a request is already in progress")

const DefaultSettleDelay = 2 * time.Second

type View string

const (
	ViewSelectPayment   View = "select_payment"
	ViewProcessing      View = "processing"
	ViewAwaitingGateway View = "awaiting_gateway"
	ViewSuccess         View = "success"
	ViewFailed          View = "failed"
	ViewTimeout         View = "timeout"
)

const (
	msgGeneric  = "Something went wrong while processing your purchase. Please try again."
	msgTimeout  = "We could not confirm your payment yet. Check your transaction history before trying again."
	msgDeclined = "Payment was not completed. Choose a payment method to try again."
)

type Receipt struct {
	TransactionID    int64           `json:"transaction_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	SellerEarnings   decimal.Decimal `json:"seller_earnings"`
}

// State is what the purchase dialog renders.
type State struct {
	View          View            `json:"view"`
	TicketID      int64           `json:"ticket_id,omitempty"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	Methods       []models.Method `json:"methods,omitempty"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	Message       string          `json:"message,omitempty"`
	Receipt       *Receipt        `json:"receipt,omitempty"`
}

// API is the part of the backend client the flow needs.
type API interface {
	StatusSource
	Preview(ctx context.Context, s *client.Session, ticketID int64) (*client.Quote, error)
	Buy(ctx context.Context, s *client.Session, req client.BuyRequest) (*client.BuyResult, error)
	ListTickets(ctx context.Context, s *client.Session) ([]models.Ticket, error)
}

// Opener hands a gateway URL to a browser. It must not block on the user.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

type Option func(*Flow)

func WithOpener(o Opener) Option {
	return func(f *Flow) { f.opener = o }
}

// WithObserver registers a callback invoked on every view change.
func WithObserver(fn func(State)) Option {
	return func(f *Flow) { f.onView = fn }
}

// WithTicketsRefreshed receives the ticket list fetched after a success.
func WithTicketsRefreshed(fn func([]models.Ticket)) Option {
	return func(f *Flow) { f.onRefresh = fn }
}

// WithClock replaces time.After for both the poll schedule and the settle
// delay.
func WithClock(after func(time.Duration) <-chan time.Time) Option {
	return func(f *Flow) { f.after = after }
}

func WithPollSchedule(interval time.Duration, maxAttempts int) Option {
	return func(f *Flow) {
		if interval > 0 {
			f.poller.interval = interval
		}
		if maxAttempts > 0 {
			f.poller.maxAttempts = maxAttempts
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) { f.logger = logger }
}

type Flow struct {
	api         API
	session     *client.Session
	poller      *Poller
	opener      Opener
	onView      func(State)
	onRefresh   func([]models.Ticket)
	after       func(time.Duration) <-chan time.Time
	settleDelay time.Duration
	logger      *zap.Logger

	busy      atomic.Bool
	refreshes sync.WaitGroup

	mu    sync.Mutex
	state State
	quote *client.Quote
}

func NewFlow(api API, s *client.Session, opts ...Option) *Flow {
	f := &Flow{
		api:         api,
		session:     s,
		poller:      NewPoller(api, nil),
		after:       time.After,
		settleDelay: DefaultSettleDelay,
		logger:      zap.NewNop(),
		state:       State{View: ViewSelectPayment},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.poller.after = f.after
	f.poller.logger = f.logger
	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Select fetches the quote for a ticket and shows the method selection.
func (f *Flow) Select(ctx context.Context, ticketID int64) (*client.Quote, error) {
	if !f.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer f.busy.Store(false)

	q, err := f.api.Preview(ctx, f.session, ticketID)
	if err != nil {
		f.show(State{View: ViewSelectPayment, TicketID: ticketID, Message: messageFor(err)})
		return nil, err
	}

	f.mu.Lock()
	f.quote = q
	f.mu.Unlock()
	f.show(State{View: ViewSelectPayment, TicketID: ticketID, Methods: q.Methods})
	return q, nil
}

// Buy submits the purchase and, for gateway payments, polls until the
// outcome is known. The returned state is also the flow's current state.
// Errors that send the user back to method selection are returned along
// with that state.
func (f *Flow) Buy(ctx context.Context, method models.Method, data models.PaymentData) (State, error) {
	if !f.busy.CompareAndSwap(false, true) {
		return f.State(), ErrBusy
	}
	defer f.busy.Store(false)

	ticketID := f.State().TicketID
	f.show(State{View: ViewProcessing, TicketID: ticketID})

	res, err := f.api.Buy(ctx, f.session, client.BuyRequest{
		TicketID:      ticketID,
		PaymentMethod: method,
		PaymentData:   data,
	})
	if err != nil {
		return f.fail(ticketID, err), err
	}

	switch res.Status {
	case models.TransactionSuccess:
		return f.succeed(ctx, ticketID, res.TransactionID, res, nil), nil
	case models.TransactionFailed:
		monitoring.TrackPurchaseOutcome("declined")
		msg := res.Message
		if msg == "" {
			msg = msgDeclined
		}
		return f.show(State{View: ViewFailed, TicketID: ticketID, TransactionID: res.TransactionID, Message: msg}), nil
	}

	st := State{View: ViewProcessing, TicketID: ticketID, TransactionID: res.TransactionID}
	if res.PaymentURL != "" {
		st.View = ViewAwaitingGateway
		st.PaymentURL = res.PaymentURL
		if f.opener != nil {
			if oerr := f.opener.Open(res.PaymentURL); oerr != nil {
				f.logger.Warn("could not open payment page", zap.String("url", res.PaymentURL), zap.Error(oerr))
			}
		}
	}
	f.show(st)

	view, err := f.poller.Poll(ctx, f.session, res.TransactionID)
	switch {
	case errors.Is(err, status.ErrPollTimeout):
		monitoring.TrackPurchaseOutcome("timeout")
		return f.show(State{View: ViewTimeout, TicketID: ticketID, TransactionID: res.TransactionID, Message: msgTimeout}), err
	case err != nil:
		if ctx.Err() != nil {
			// Dialog closed. The transaction stays pending on the backend.
			return f.State(), err
		}
		return f.fail(ticketID, err), err
	}

	if view.Status == models.TransactionSuccess {
		return f.succeed(ctx, ticketID, view.ID, res, view.Earnings), nil
	}

	monitoring.TrackPurchaseOutcome(string(view.Status))
	msg := view.ErrorMessage
	if msg == "" {
		msg = msgDeclined
	}
	return f.show(State{
		View:          ViewSelectPayment,
		TicketID:      ticketID,
		TransactionID: view.ID,
		Methods:       f.methods(),
		Message:       msg,
	}), nil
}

// Retry leaves a failed or timed out purchase and returns to method
// selection. The next Buy opens a new transaction.
func (f *Flow) Retry() State {
	cur := f.State()
	if cur.View != ViewFailed && cur.View != ViewTimeout {
		return cur
	}
	return f.show(State{View: ViewSelectPayment, TicketID: cur.TicketID, Methods: f.methods()})
}

// Wait blocks until background ticket refreshes have finished.
func (f *Flow) Wait() {
	f.refreshes.Wait()
}

func (f *Flow) succeed(ctx context.Context, ticketID, txnID int64, res *client.BuyResult, earnings *models.EarningsBreakdown) State {
	monitoring.TrackPurchaseOutcome("success")
	st := f.show(State{
		View:          ViewSuccess,
		TicketID:      ticketID,
		TransactionID: txnID,
		Receipt:       f.receipt(txnID, res, earnings),
	})
	f.scheduleRefresh(context.WithoutCancel(ctx))
	return st
}

// receipt takes amounts from the buy response, then the status view, then
// the quote shown before payment.
func (f *Flow) receipt(txnID int64, res *client.BuyResult, earnings *models.EarningsBreakdown) *Receipt {
	r := &Receipt{TransactionID: txnID}
	switch {
	case res != nil && res.TotalAmount != nil && res.CommissionAmount != nil && res.SellerEarnings != nil:
		r.TotalAmount = *res.TotalAmount
		r.CommissionAmount = *res.CommissionAmount
		r.SellerEarnings = *res.SellerEarnings
	case earnings != nil:
		r.TotalAmount = earnings.TransactionAmount
		r.CommissionAmount = earnings.CommissionAmount
		r.SellerEarnings = earnings.SellerEarnings
	default:
		f.mu.Lock()
		q := f.quote
		f.mu.Unlock()
		if q != nil {
			r.TotalAmount = q.Earnings.TransactionAmount
			r.CommissionAmount = q.Earnings.CommissionAmount
			r.SellerEarnings = q.Earnings.SellerEarnings
		}
	}
	return r
}

func (f *Flow) scheduleRefresh(ctx context.Context) {
	f.refreshes.Add(1)
	go func() {
		defer f.refreshes.Done()
		<-f.after(f.settleDelay)

		tickets, err := f.api.ListTickets(ctx, f.session)
		if err != nil {
			f.logger.Warn("ticket list refresh failed", zap.Error(err))
			return
		}
		if f.onRefresh != nil {
			f.onRefresh(tickets)
		}
	}()
}

// fail maps an error onto the step the user lands on. Anything the user can
// act on goes back to method selection with the server's message.
func (f *Flow) fail(ticketID int64, err error) State {
	switch {
	case errors.Is(err, status.ErrValidation),
		errors.Is(err, status.ErrConflict),
		errors.Is(err, status.ErrNotFound),
		errors.Is(err, status.ErrForbidden),
		errors.Is(err, status.ErrAuth):
		monitoring.TrackPurchaseOutcome("rejected")
		return f.show(State{View: ViewSelectPayment, TicketID: ticketID, Methods: f.methods(), Message: messageFor(err)})
	}

	f.logger.Error("purchase failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
	monitoring.TrackPurchaseOutcome("error")
	return f.show(State{View: ViewFailed, TicketID: ticketID, Message: messageFor(err)})
}

func (f *Flow) methods() []models.Method {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quote == nil {
		return nil
	}
	return f.quote.Methods
}

func (f *Flow) show(st State) State {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	if f.onView != nil {
		f.onView(st)
	}
	return st
}

func messageFor(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" &&
		(apiErr.StatusCode < http.StatusInternalServerError || apiErr.StatusCode == http.StatusBadGateway) {
		return apiErr.Message
	}
	var authErr *client.AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return msgGeneric
}
