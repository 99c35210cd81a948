// Package store persists per-cycle trade outcomes using Gorm + SQLite.
package store

import (
	"gorm.io/datatypes"
)

// TradeOutcomeModel is one recorded outcome of a monitoring cycle for one
// symbol: a close, a scale-out, or a skip/error worth auditing.
type TradeOutcomeModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	Symbol    string         `gorm:"column:symbol;index"`
	Side      string         `gorm:"column:side"`
	Outcome   string         `gorm:"column:outcome;index"`
	Reason    string         `gorm:"column:reason"`
	Move      float64        `gorm:"column:move"`
	ROI       float64        `gorm:"column:roi"`
	Amount    float64        `gorm:"column:amount"`
	Leverage  float64        `gorm:"column:leverage"`
	Detail    datatypes.JSON `gorm:"column:detail"`
	CreatedAt int64          `gorm:"column:created_at;index"`
}

func (TradeOutcomeModel) TableName() string { return "trade_outcomes" }
