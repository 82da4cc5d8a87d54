package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderSettlement is the storage owned by the deposit transition: one row per
// settled logical transition. The unique (provider, settlement_key) index
// makes the transition safe to re-run after a crashed attempt and closes the
// door on two deliveries of the same transition under distinct event ids; a
// duplicate insert just resolves to the existing row.
type OrderSettlement struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Provider      PaymentProvider `gorm:"size:32;not null;index:uniq_settlement,unique" json:"provider"`
	SettlementKey string          `gorm:"size:300;not null;index:uniq_settlement,unique" json:"settlement_key"`
	EventId       string          `gorm:"size:255;not null;index" json:"event_id"`
	ReferenceId   string          `gorm:"size:255;index" json:"reference_id"`
	Txid          string          `gorm:"size:255;index" json:"txid"`
	Amount        decimal.Decimal `gorm:"type:decimal(24,8)" json:"amount"`
	Currency      string          `gorm:"size:10" json:"currency"`
	UserId        int             `gorm:"index" json:"user_id"`
	Confirmed     bool            `gorm:"not null;default:0" json:"confirmed"`
	CreditedAt    time.Time       `gorm:"autoCreateTime" json:"credited_at"`
}

// SettleDeposit credits the deposit against the order. Idempotent at this
// table: re-running for the same logical transition returns the existing
// settlement.
func SettleDeposit(ctx context.Context, db *gorm.DB, ev *NormalizedEvent) (*OrderSettlement, error) {
	row := OrderSettlement{
		Provider:      ev.Provider,
		SettlementKey: ev.SettlementKey(),
		EventId:       ev.EventId,
		ReferenceId:   ev.ReferenceId,
		Txid:          ev.Txid,
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		UserId:        ev.UserId,
		Confirmed:     ev.Confirmed,
	}
	err := db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return &row, nil
	}
	if !isDuplicateKeyErr(err) {
		return nil, err
	}

	var existing OrderSettlement
	if err := db.WithContext(ctx).
		Where("provider = ? AND settlement_key = ?", ev.Provider, row.SettlementKey).
		First(&existing).Error; err != nil {
		return nil, errors.New("settlement exists but could not be loaded: " + err.Error())
	}
	return &existing, nil
}
