package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticket-resale/internal/status"
	"ticket-resale/internal/store"
	"ticket-resale/models"

	"github.com/shopspring/decimal"
)

type TicketService struct {
	store store.Store
	now   func() time.Time
}

func NewTicketService(s store.Store) *TicketService {
	return &TicketService{store: s, now: time.Now}
}

type TicketInput struct {
	EventName     string          `json:"event_name"`
	EventDate     time.Time       `json:"event_date"`
	Price         decimal.Decimal `json:"price"`
	PaymentMethod models.Method   `json:"payment_method"`
	ContactInfo   string          `json:"contact_info"`
}

func (in *TicketInput) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(in.EventName) == "" {
		fields["event_name"] = "event_name is required"
	}
	if in.EventDate.IsZero() {
		fields["event_date"] = "event_date is required"
	}
	if in.Price.IsNegative() {
		fields["price"] = "price must not be negative"
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Accepted() {
		fields["payment_method"] = fmt.Sprintf("unsupported payment method %q", in.PaymentMethod)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (in *TicketInput) apply(t *models.Ticket) {
	t.EventName = strings.TrimSpace(in.EventName)
	t.EventDate = in.EventDate
	t.Price = in.Price.Round(2)
	t.PaymentMethod, _ = models.NormalizeMethod(in.PaymentMethod, nil)
	t.ContactInfo = strings.TrimSpace(in.ContactInfo)
}

// ListAvailable returns tickets open for purchase, optionally hiding the
// caller's own listings.
func (s *TicketService) ListAvailable(ctx context.Context, excludeOwner int64) ([]*models.Ticket, error) {
	return s.store.ListTickets(ctx, store.TicketFilter{Status: models.TicketAvailable, ExcludeOwner: excludeOwner})
}

func (s *TicketService) ListOwned(ctx context.Context, ownerID int64) ([]*models.Ticket, error) {
	return s.store.ListTickets(ctx, store.TicketFilter{OwnerID: ownerID})
}

func (s *TicketService) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	return s.store.GetTicket(ctx, id)
}

func (s *TicketService) Create(ctx context.Context, ownerID int64, in TicketInput) (*models.Ticket, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	t := &models.Ticket{
		Status:    models.TicketAvailable,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(t)

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update edits a listing. Only the owner may edit, and only while available.
func (s *TicketService) Update(ctx context.Context, ownerID, id int64, in TicketInput) (*models.Ticket, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.store.UpdateTicket(ctx, id, func(t *models.Ticket) error {
		if err := editable(t, ownerID); err != nil {
			return err
		}
		in.apply(t)
		t.UpdatedAt = s.now()
		return nil
	})
}

func (s *TicketService) Delete(ctx context.Context, ownerID, id int64) error {
	t, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	if err := editable(t, ownerID); err != nil {
		return err
	}
	// a purchase may start between the check and the delete
	if err := s.store.LockTicket(ctx, id, 0); err != nil {
		return err
	}
	return s.store.DeleteTicket(ctx, id)
}

func editable(t *models.Ticket, ownerID int64) error {
	if t.OwnerID != ownerID {
		return fmt.Errorf("ticket %d: %w", t.ID, status.ErrForbidden)
	}
	if !t.Editable() {
		return fmt.Errorf("ticket %d is %s and can no longer be changed: %w", t.ID, t.Status, status.ErrConflict)
	}
	return nil
}
