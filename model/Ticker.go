package model

import "time"

type Ticker struct {
	ID                 uint      `gorm:"primary_key" json:"-"`
	Symbol             string    `gorm:"index:idx_ticker_symbol_ts;not null" json:"symbol"`
	Timestamp          time.Time `gorm:"index:idx_ticker_symbol_ts;not null" json:"timestamp"`
	LastPrice          float64   `json:"last_price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	High               float64   `json:"high_price"`
	Low                float64   `json:"low_price"`
	Volume             float64   `json:"volume"`
	Turnover           float64   `json:"turnover"`
	Name               string    `gorm:"-" json:"name"`
}

func (Ticker) TableName() string {
	return `market_ticker`
}
