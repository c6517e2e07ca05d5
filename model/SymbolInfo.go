package model

import "time"

type SymbolInfo struct {
	ID                uint      `gorm:"primary_key" json:"-"`
	Symbol            string    `gorm:"unique_index;not null" json:"symbol"`
	Name              string    `json:"name"`
	BaseAsset         string    `json:"base_asset"`
	QuoteAsset        string    `json:"quote_asset"`
	MarketType        string    `gorm:"index" json:"market_type"`
	Status            string    `gorm:"index;default:'active'" json:"status"`
	PricePrecision    int       `json:"price_precision"`
	QuantityPrecision int       `json:"quantity_precision"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (SymbolInfo) TableName() string {
	return `symbol_info`
}

// NewSymbolInfo builds the row registered for a symbol seen for the first time.
func NewSymbolInfo(symbol string) *SymbolInfo {
	segment := DetectSegment(symbol)
	base, quote := SplitAssets(symbol, segment)
	return &SymbolInfo{Symbol: symbol, Name: symbol, BaseAsset: base, QuoteAsset: quote, MarketType: segment,
		Status: StatusActive, PricePrecision: 2, QuantityPrecision: 4}
}
