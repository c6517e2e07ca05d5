package model

import "time"

// Candle is one OHLCV record; (symbol, timestamp, period) is unique and rows are never rewritten.
type Candle struct {
	ID        uint      `gorm:"primary_key" json:"-"`
	Symbol    string    `gorm:"unique_index:idx_candle_key;not null" json:"symbol"`
	Timestamp time.Time `gorm:"unique_index:idx_candle_key;not null" json:"timestamp"`
	Period    string    `gorm:"unique_index:idx_candle_key;not null" json:"period"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Turnover  *float64  `json:"turnover"`
	CreatedAt time.Time `json:"-"`
}

func (Candle) TableName() string {
	return `market_data`
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (timeRange TimeRange) Contains(t time.Time) bool {
	return !t.Before(timeRange.Start) && !t.After(timeRange.End)
}

// LastDuration is [now - d, now] in UTC.
func LastDuration(d time.Duration) TimeRange {
	now := time.Now().UTC()
	return TimeRange{Start: now.Add(-d), End: now}
}
