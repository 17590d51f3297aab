package sizing

import "github.com/shopspring/decimal"

// maxQuantityScale bounds every persisted or compared quantity to 8 decimal
// places. Exchanges reject finer precision and repeated arithmetic past it
// accumulates drift.
const maxQuantityScale = 8

// NormalizeQuantity truncates a quantity to 8 decimal places, rounding
// toward zero so a normalized sell can never exceed the held amount.
func NormalizeQuantity(qty decimal.Decimal) decimal.Decimal {
	return qty.Truncate(maxQuantityScale)
}

// FloorToStep floors a quantity to the exchange step size. A zero or
// negative step leaves only the 8-decimal normalization.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	qty = NormalizeQuantity(qty)
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	steps := qty.Div(step).Floor()
	return NormalizeQuantity(steps.Mul(step))
}
