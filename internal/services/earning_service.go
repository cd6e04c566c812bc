package services

import (
	"context"

	"ticket-resale/internal/store"
	"ticket-resale/models"

	"github.com/shopspring/decimal"
)

type EarningService struct {
	store store.Store
}

func NewEarningService(s store.Store) *EarningService {
	return &EarningService{store: s}
}

type EarningsSummary struct {
	Earnings        []*models.Earning `json:"earnings"`
	Count           int               `json:"count"`
	TotalGross      decimal.Decimal   `json:"total_gross"`
	TotalCommission decimal.Decimal   `json:"total_commission"`
	TotalNet        decimal.Decimal   `json:"total_net"`
}

func (s *EarningService) Summary(ctx context.Context, sellerID int64) (*EarningsSummary, error) {
	list, err := s.store.ListEarningsBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Earning{}
	}

	sum := &EarningsSummary{
		Earnings:        list,
		Count:           len(list),
		TotalGross:      decimal.Zero,
		TotalCommission: decimal.Zero,
		TotalNet:        decimal.Zero,
	}
	for _, e := range list {
		sum.TotalGross = sum.TotalGross.Add(e.Gross)
		sum.TotalCommission = sum.TotalCommission.Add(e.Commission)
		sum.TotalNet = sum.TotalNet.Add(e.Net)
	}
	return sum, nil
}
