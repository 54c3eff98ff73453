package model

import "time"

// Candle is one OHLCV bar written by the market-data ingestion service.
type Candle struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"size:64;index:idx_candle_symbol_tf_ts,priority:1"`
	Timeframe string    `gorm:"size:8;index:idx_candle_symbol_tf_ts,priority:2"`
	Timestamp time.Time `gorm:"index:idx_candle_symbol_tf_ts,priority:3"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

func (Candle) TableName() string {
	return "market_data"
}

// PositionRecord is the exchange position recorded locally by the connectivity layer.
type PositionRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Symbol       string    `gorm:"size:64;index:idx_position_symbol_ts,priority:1"`
	PositionSize float64   `gorm:"not null"`
	Timestamp    time.Time `gorm:"index:idx_position_symbol_ts,priority:2"`
}

func (PositionRecord) TableName() string {
	return "positions"
}

// BalanceRecord is an account balance snapshot.
type BalanceRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	AccountValue float64   `gorm:"not null"`
	Timestamp    time.Time `gorm:"index"`
}

func (BalanceRecord) TableName() string {
	return "balances"
}
