package positions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/sizing"
)

// DefaultSellLockTTL bounds how long a crashed seller can hold a position
// hostage before the lock self-heals.
const DefaultSellLockTTL = 600 * time.Second

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrInvalidQuantity  = errors.New("invalid close quantity")
)

// Ledger aggregates fills into positions and owns the sell lock. All
// mutual exclusion is delegated to the repository's conditional updates;
// this service only computes the new values to write.
type Ledger struct {
	positions *repository.PositionRepository
	dust      decimal.Decimal
	now       func() time.Time
}

func NewLedger(positions *repository.PositionRepository) *Ledger {
	return &Ledger{
		positions: positions,
		dust:      model.DustThreshold,
		now:       time.Now,
	}
}

// WithDust overrides the dust threshold, mostly for tests.
func (l *Ledger) WithDust(dust decimal.Decimal) *Ledger {
	return &Ledger{positions: l.positions, dust: dust, now: l.now}
}

// OnBuyExecuted applies a BUY fill: opens a new position for
// (account, mode, symbol) or adds to the open one, recomputing the
// fill-weighted average entry price. Returns the affected position id.
func (l *Ledger) OnBuyExecuted(
	ctx context.Context,
	accountID uint,
	tradeMode, symbol string,
	qty, avgPrice decimal.Decimal,
) (uint, error) {

	qty = sizing.NormalizeQuantity(qty)
	if qty.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidQuantity
	}

	existing, err := l.positions.FindOpen(ctx, accountID, tradeMode, symbol)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		position := &model.TradePosition{
			ExchangeAccountID: accountID,
			TradeMode:         tradeMode,
			Symbol:            symbol,
			Status:            model.PositionStatusOpen,
			QuantityRemaining: qty,
			OpeningPrice:      avgPrice,
			OpenedAt:          l.now(),
		}
		if err := l.positions.Create(ctx, position); err != nil {
			return 0, err
		}
		return position.ID, nil
	}

	// Weighted average: (oldQty*oldPrice + qty*price) / (oldQty+qty).
	oldQty := existing.QuantityRemaining
	newQty := sizing.NormalizeQuantity(oldQty.Add(qty))
	newAvg := oldQty.Mul(existing.OpeningPrice).
		Add(qty.Mul(avgPrice)).
		Div(oldQty.Add(qty))

	if err := l.positions.ApplyBuyFill(ctx, existing.ID, newQty, newAvg); err != nil {
		return 0, err
	}

	logger.WithFields(map[string]interface{}{
		"position_id": existing.ID,
		"symbol":      symbol,
		"added_qty":   qty.String(),
		"new_qty":     newQty.String(),
	}).Info("Buy fill added to open position")

	return existing.ID, nil
}

// OnSellExecuted applies a SELL fill to a position: reduces the remaining
// quantity and accumulates realized P&L as qty*(price-entry). When the
// remainder falls to the dust threshold or below, the position closes with
// a reason derived from the sell origin.
func (l *Ledger) OnSellExecuted(
	ctx context.Context,
	positionID uint,
	qty, avgPrice decimal.Decimal,
	origin string,
) error {

	qty = sizing.NormalizeQuantity(qty)
	if qty.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidQuantity
	}

	position, err := l.positions.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if position == nil {
		return ErrPositionNotFound
	}
	if qty.GreaterThan(position.QuantityRemaining) {
		return ErrInvalidQuantity
	}

	newQty := sizing.NormalizeQuantity(position.QuantityRemaining.Sub(qty))
	pnlDelta := qty.Mul(avgPrice.Sub(position.OpeningPrice))
	newPnl := position.RealizedPnlUSD.Add(pnlDelta)

	closed := newQty.LessThanOrEqual(l.dust)
	closeReason := ""
	if closed {
		closeReason = origin
	}

	if err := l.positions.ApplySellFill(ctx, positionID, newQty, newPnl, closed, closeReason); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"position_id": positionID,
		"sold_qty":    qty.String(),
		"new_qty":     newQty.String(),
		"pnl_delta":   pnlDelta.String(),
		"closed":      closed,
	}).Info("Sell fill applied to position")

	return nil
}

// GetOpenPosition returns the open position for one (account, mode, symbol)
// cell, or nil when nothing is open.
func (l *Ledger) GetOpenPosition(ctx context.Context, accountID uint, tradeMode, symbol string) (*model.TradePosition, error) {
	return l.positions.FindOpen(ctx, accountID, tradeMode, symbol)
}

// GetEligiblePositions returns open, unlocked positions a sell of the given
// origin may close, newest first.
func (l *Ledger) GetEligiblePositions(
	ctx context.Context,
	accountID uint,
	tradeMode, symbol, origin string,
) ([]model.TradePosition, error) {

	webhookOrigin := origin == model.CloseReasonWebhookSell
	return l.positions.FindEligibleForSell(ctx, accountID, tradeMode, symbol, webhookOrigin, l.now())
}

// AcquireSellLock takes the TTL-bound sell lock for jobID; reentrant for
// the same job. Returns false when another job holds a live lock.
func (l *Ledger) AcquireSellLock(ctx context.Context, positionID, jobID uint, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultSellLockTTL
	}
	return l.positions.AcquireSellLock(ctx, positionID, jobID, ttl, l.now())
}

// ReleaseSellLock clears the lock if jobID still owns it; a non-owner
// release is a no-op returning false.
func (l *Ledger) ReleaseSellLock(ctx context.Context, positionID, jobID uint) (bool, error) {
	return l.positions.ReleaseSellLock(ctx, positionID, jobID)
}

// UpdateSLTP reconfigures stop-loss/take-profit on an open position.
func (l *Ledger) UpdateSLTP(
	ctx context.Context,
	positionID uint,
	slEnabled bool, slPct decimal.Decimal,
	tpEnabled bool, tpPct decimal.Decimal,
) error {
	if slPct.IsNegative() || tpPct.IsNegative() {
		return errors.New("SL/TP percentages must not be negative")
	}
	return l.positions.UpdateSLTP(ctx, positionID, slEnabled, slPct, tpEnabled, tpPct)
}

// LockSellByWebhook toggles the flag blocking webhook-originated sells.
func (l *Ledger) LockSellByWebhook(ctx context.Context, positionID uint, locked bool) error {
	return l.positions.SetWebhookSellLocked(ctx, positionID, locked)
}

// ClosePosition computes the quantity a manual/admin close should sell:
// the full remainder when quantity is nil, otherwise the validated partial
// amount. It does not execute the sell; the caller routes the returned
// quantity through the trade job state machine.
func (l *Ledger) ClosePosition(ctx context.Context, positionID uint, quantity *decimal.Decimal) (decimal.Decimal, error) {
	position, err := l.positions.FindByID(ctx, positionID)
	if err != nil {
		return decimal.Zero, err
	}
	if position == nil {
		return decimal.Zero, ErrPositionNotFound
	}
	if position.Status != model.PositionStatusOpen || position.QuantityRemaining.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, repository.ErrPositionClosed
	}

	if quantity == nil {
		return position.QuantityRemaining, nil
	}

	toClose := sizing.NormalizeQuantity(*quantity)
	if toClose.LessThanOrEqual(decimal.Zero) || toClose.GreaterThan(position.QuantityRemaining) {
		return decimal.Zero, ErrInvalidQuantity
	}

	return toClose, nil
}
