package vault

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

var (
	// ErrInsufficientFunds rejects an admission against the available balance.
	ErrInsufficientFunds = errors.New("insufficient vault balance")
	// ErrReservationSettled means the reservation was already confirmed or
	// canceled; settling twice is a caller bug, not a retryable outcome.
	ErrReservationSettled = errors.New("reservation already settled")
	// ErrIntegrity marks an invariant violation (e.g. confirming more than
	// was reserved). Logged for manual reconciliation, never auto-repaired.
	ErrIntegrity = errors.New("vault ledger integrity violation")
)

// Ledger owns vault balances. Balances are only ever changed by appending a
// VaultTransaction row and adjusting the derived VaultBalance inside the
// same database transaction, with a conditional UPDATE doing double duty as
// admission check and debit. Reservations debit the derived balance
// immediately, so "available" is simply the current balance.
type Ledger struct {
	db *gorm.DB
}

func NewLedger() *Ledger {
	return &Ledger{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (l *Ledger) WithDB(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Deposit credits a (vault, asset) balance.
func (l *Ledger) Deposit(ctx context.Context, vaultID uint, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("deposit amount must be positive")
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureBalance(tx, vaultID, asset); err != nil {
			return err
		}
		if err := l.credit(tx, vaultID, asset, amount); err != nil {
			return err
		}
		return tx.Create(&model.VaultTransaction{
			VaultID: vaultID,
			Asset:   asset,
			TxType:  model.VaultTxDeposit,
			Amount:  amount,
			Status:  model.VaultTxStatusConfirmed,
		}).Error
	})
}

// Withdraw debits a (vault, asset) balance, rejecting overdrafts.
func (l *Ledger) Withdraw(ctx context.Context, vaultID uint, asset string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("withdrawal amount must be positive")
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.debitIfAvailable(tx, vaultID, asset, amount); err != nil {
			return err
		}
		return tx.Create(&model.VaultTransaction{
			VaultID: vaultID,
			Asset:   asset,
			TxType:  model.VaultTxWithdrawal,
			Amount:  amount.Neg(),
			Status:  model.VaultTxStatusConfirmed,
		}).Error
	})
}

// Reserve holds capital for a pending BUY job. The conditional debit is the
// admission check: it only succeeds while the balance covers the amount.
// Returns the reservation transaction id for later settlement.
func (l *Ledger) Reserve(ctx context.Context, vaultID uint, asset string, amount decimal.Decimal, jobID *uint) (uint, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, errors.New("reserve amount must be positive")
	}

	var reservationID uint
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.debitIfAvailable(tx, vaultID, asset, amount); err != nil {
			return err
		}

		reservation := model.VaultTransaction{
			VaultID:    vaultID,
			Asset:      asset,
			TxType:     model.VaultTxBuyReserve,
			Amount:     amount.Neg(),
			Status:     model.VaultTxStatusOpen,
			TradeJobID: jobID,
		}
		if err := tx.Create(&reservation).Error; err != nil {
			return err
		}
		reservationID = reservation.ID
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.WithFields(map[string]interface{}{
		"vault_id":       vaultID,
		"asset":          asset,
		"amount":         amount.String(),
		"reservation_id": reservationID,
	}).Info("Vault capital reserved")

	return reservationID, nil
}

// ConfirmReserve settles a reservation against the actual fill cost. The
// excess between the reserved amount and the cost is returned to the balance
// on the BUY_CONFIRM row, so the net ledger effect equals the real spend.
// Confirming more than was reserved is an integrity violation.
func (l *Ledger) ConfirmReserve(ctx context.Context, reservationID uint, actualCost decimal.Decimal) error {
	if actualCost.IsNegative() {
		return errors.New("actual cost must not be negative")
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := l.takeOpenReservation(tx, reservationID)
		if err != nil {
			return err
		}

		reserved := reservation.Amount.Neg()
		if actualCost.GreaterThan(reserved) {
			logger.WithFields(map[string]interface{}{
				"reservation_id": reservationID,
				"reserved":       reserved.String(),
				"actual_cost":    actualCost.String(),
			}).Error("BUY_CONFIRM exceeds reservation")
			return ErrIntegrity
		}

		if err := l.settleReservation(tx, reservationID, model.VaultTxStatusConfirmed); err != nil {
			return err
		}

		excess := reserved.Sub(actualCost)
		if excess.IsPositive() {
			if err := l.credit(tx, reservation.VaultID, reservation.Asset, excess); err != nil {
				return err
			}
		}

		return tx.Create(&model.VaultTransaction{
			VaultID:       reservation.VaultID,
			Asset:         reservation.Asset,
			TxType:        model.VaultTxBuyConfirm,
			Amount:        excess,
			Status:        model.VaultTxStatusConfirmed,
			ReservationID: &reservation.ID,
			TradeJobID:    reservation.TradeJobID,
		}).Error
	})
}

// CancelReserve returns the full reserved amount to the balance.
func (l *Ledger) CancelReserve(ctx context.Context, reservationID uint) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := l.takeOpenReservation(tx, reservationID)
		if err != nil {
			return err
		}

		if err := l.settleReservation(tx, reservationID, model.VaultTxStatusCanceled); err != nil {
			return err
		}

		reserved := reservation.Amount.Neg()
		if err := l.credit(tx, reservation.VaultID, reservation.Asset, reserved); err != nil {
			return err
		}

		return tx.Create(&model.VaultTransaction{
			VaultID:       reservation.VaultID,
			Asset:         reservation.Asset,
			TxType:        model.VaultTxBuyCancel,
			Amount:        reserved,
			Status:        model.VaultTxStatusConfirmed,
			ReservationID: &reservation.ID,
			TradeJobID:    reservation.TradeJobID,
		}).Error
	})
}

// CreditSellReturn credits sale proceeds after a closing fill.
func (l *Ledger) CreditSellReturn(ctx context.Context, vaultID uint, asset string, amount decimal.Decimal, jobID *uint) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("sell return amount must be positive")
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureBalance(tx, vaultID, asset); err != nil {
			return err
		}
		if err := l.credit(tx, vaultID, asset, amount); err != nil {
			return err
		}
		return tx.Create(&model.VaultTransaction{
			VaultID:    vaultID,
			Asset:      asset,
			TxType:     model.VaultTxSellReturn,
			Amount:     amount,
			Status:     model.VaultTxStatusConfirmed,
			TradeJobID: jobID,
		}).Error
	})
}

// AvailableBalance returns the current derived balance. Missing rows read
// as zero.
func (l *Ledger) AvailableBalance(ctx context.Context, vaultID uint, asset string) (decimal.Decimal, error) {
	var balance model.VaultBalance
	err := l.db.WithContext(ctx).
		Where("vault_id = ? AND asset = ?", vaultID, asset).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return balance.Balance, nil
}

// RecomputeBalance rebuilds the derived balance from the transaction rows
// and reports a mismatch as ErrIntegrity. Used by the reconciliation sweep.
func (l *Ledger) RecomputeBalance(ctx context.Context, vaultID uint, asset string) (decimal.Decimal, error) {
	var rows []model.VaultTransaction
	err := l.db.WithContext(ctx).
		Where("vault_id = ? AND asset = ?", vaultID, asset).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}

	current, err := l.AvailableBalance(ctx, vaultID, asset)
	if err != nil {
		return decimal.Zero, err
	}

	if !sum.Equal(current) {
		logger.WithFields(map[string]interface{}{
			"vault_id": vaultID,
			"asset":    asset,
			"derived":  sum.String(),
			"stored":   current.String(),
		}).Error("Vault balance does not match transaction sum")
		return sum, ErrIntegrity
	}

	return sum, nil
}

// ---------------------------------------------------
// internals, all called inside an open transaction
// ---------------------------------------------------

func (l *Ledger) ensureBalance(tx *gorm.DB, vaultID uint, asset string) error {
	return tx.Where(model.VaultBalance{VaultID: vaultID, Asset: asset}).
		FirstOrCreate(&model.VaultBalance{VaultID: vaultID, Asset: asset, Balance: decimal.Zero}).Error
}

// debitIfAvailable is the atomic check-and-debit: the WHERE clause is the
// admission condition, so there is no window between check and set.
func (l *Ledger) debitIfAvailable(tx *gorm.DB, vaultID uint, asset string, amount decimal.Decimal) error {
	res := tx.Model(&model.VaultBalance{}).
		Where("vault_id = ? AND asset = ? AND balance >= ?", vaultID, asset, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (l *Ledger) credit(tx *gorm.DB, vaultID uint, asset string, amount decimal.Decimal) error {
	res := tx.Model(&model.VaultBalance{}).
		Where("vault_id = ? AND asset = ?", vaultID, asset).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIntegrity
	}
	return nil
}

// settleReservation flips OPEN to a settled status. The status condition in
// the WHERE clause makes concurrent settlements lose cleanly.
func (l *Ledger) settleReservation(tx *gorm.DB, reservationID uint, status string) error {
	res := tx.Model(&model.VaultTransaction{}).
		Where("id = ? AND status = ?", reservationID, model.VaultTxStatusOpen).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReservationSettled
	}
	return nil
}

// takeOpenReservation loads a reservation and guards double settlement.
func (l *Ledger) takeOpenReservation(tx *gorm.DB, reservationID uint) (*model.VaultTransaction, error) {
	var reservation model.VaultTransaction
	err := tx.Where("id = ? AND tx_type = ?", reservationID, model.VaultTxBuyReserve).
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntegrity
		}
		return nil, err
	}
	if reservation.Status != model.VaultTxStatusOpen {
		return nil, ErrReservationSettled
	}
	return &reservation, nil
}
