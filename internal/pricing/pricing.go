package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Service quotes delivery fees. Fees are flat with an optional free-shipping
// threshold; both values come from configuration.
type Service struct {
	FlatFee   decimal.Decimal
	FreeAbove decimal.Decimal
}

type Quote struct {
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Source      string          `json:"source"`
}

func (s Service) QuoteDelivery(ctx context.Context, subtotal decimal.Decimal) (Quote, error) {
	if s.FreeAbove.IsPositive() && subtotal.GreaterThanOrEqual(s.FreeAbove) {
		return Quote{DeliveryFee: decimal.Zero, Source: "free_threshold"}, nil
	}
	return Quote{DeliveryFee: s.FlatFee, Source: "flat"}, nil
}
