package sizing

import (
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var ErrBelowMinNotional = errors.New("sized amount below exchange minimum notional")

// Resolver turns user-configured sizing parameters into a concrete quote
// amount for a BUY job. It holds no state; balance lookups stay with the
// vault ledger so admission and sizing read the same number.
type Resolver struct {
	// MinNotional is the smallest quote amount the exchange accepts.
	MinNotional decimal.Decimal
}

func NewResolver(minNotional decimal.Decimal) *Resolver {
	return &Resolver{MinNotional: minNotional}
}

// QuoteAmountFromPercent sizes a buy as a clamped percentage (1-100) of the
// available quote balance.
func (r *Resolver) QuoteAmountFromPercent(available decimal.Decimal, percent int) (decimal.Decimal, error) {
	originalPercent := percent

	if percent < 1 {
		percent = 1
	}
	if percent > 100 {
		percent = 100
	}
	if percent != originalPercent {
		logger.WithFields(map[string]interface{}{
			"original_pct": originalPercent,
			"adjusted_pct": percent,
		}).Warn("Order size percent out of range, clamped")
	}

	if available.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrBelowMinNotional
	}

	amount := available.Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100))
	amount = amount.Truncate(maxQuantityScale)

	if amount.LessThan(r.MinNotional) {
		logger.WithFields(map[string]interface{}{
			"amount":       amount.String(),
			"min_notional": r.MinNotional.String(),
		}).Warn("Sized quote amount below minimum notional")
		return decimal.Zero, ErrBelowMinNotional
	}

	return amount, nil
}

// QuoteAmountFixed validates a user-supplied fixed quote amount.
func (r *Resolver) QuoteAmountFixed(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Truncate(maxQuantityScale)
	if amount.LessThan(r.MinNotional) || amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrBelowMinNotional
	}
	return amount, nil
}
