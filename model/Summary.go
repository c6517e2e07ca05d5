package model

import (
	"math"
	"time"
)

type PriceChangeStats struct {
	AvgChange   float64 `json:"avg_change"`
	UpCount     int     `json:"up_count"`
	DownCount   int     `json:"down_count"`
	FlatCount   int     `json:"flat_count"`
	UpPercent   float64 `json:"up_percent"`
	DownPercent float64 `json:"down_percent"`
}

type TopVolume struct {
	Symbol string  `json:"symbol"`
	Volume float64 `json:"volume"`
	Name   string  `json:"name"`
}

type MarketSummary struct {
	TotalSymbols       int              `json:"total_symbols"`
	MarketTypeCounts   map[string]int   `json:"market_type_counts"`
	TotalVolume        float64          `json:"total_volume"`
	TotalTurnover      float64          `json:"total_turnover"`
	AvgVolumePerSymbol float64          `json:"avg_volume_per_symbol"`
	PriceChangeStats   PriceChangeStats `json:"price_change_stats"`
	LatestUpdateTime   string           `json:"latest_update_time"`
	TopVolumeSymbol    *TopVolume       `json:"top_volume_symbol"`
	ActivityScore      float64          `json:"activity_score"`
	MarketType         string           `json:"market_type"`
	TimeRange          string           `json:"time_range"`
	StartTime          time.Time        `json:"start_time"`
	EndTime            time.Time        `json:"end_time"`
	Timestamp          time.Time        `json:"timestamp"`
	Error              *string          `json:"error"`
}

// EmptySummary is the zero-valued summary for a window, optionally carrying an error.
func EmptySummary(segment, window string, start, end time.Time, err error) MarketSummary {
	summary := MarketSummary{MarketTypeCounts: map[string]int{}, MarketType: segment, TimeRange: window,
		StartTime: start, EndTime: end, Timestamp: time.Now().UTC()}
	if err != nil {
		message := err.Error()
		summary.Error = &message
	}
	return summary
}

func (summary *MarketSummary) Failed() bool {
	return summary.Error != nil
}

// LatestUpdate parses LatestUpdateTime; ok is false when it is empty or malformed.
func (summary *MarketSummary) LatestUpdate() (time.Time, bool) {
	if summary.LatestUpdateTime == `` {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, summary.LatestUpdateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ActivityScore: one point per 1e8 volume and five per symbol, each capped at 100, averaged to one decimal.
func ActivityScore(totalVolume float64, symbols int) float64 {
	volumeScore := math.Min(100, math.Max(0, totalVolume)/1e8)
	symbolScore := math.Min(100, float64(symbols)*5)
	if symbolScore < 0 {
		symbolScore = 0
	}
	return math.Round((volumeScore+symbolScore)/2*10) / 10
}

// ChangeStats derives averages and up/down shares from per-symbol percent changes.
func ChangeStats(changes []float64) PriceChangeStats {
	stats := PriceChangeStats{}
	if len(changes) == 0 {
		return stats
	}
	sum := 0.0
	for _, change := range changes {
		sum += change
		switch {
		case change > 0:
			stats.UpCount++
		case change < 0:
			stats.DownCount++
		default:
			stats.FlatCount++
		}
	}
	stats.AvgChange = sum / float64(len(changes))
	total := float64(stats.UpCount + stats.DownCount + stats.FlatCount)
	stats.UpPercent = math.Round(float64(stats.UpCount)/total*10000) / 100
	stats.DownPercent = math.Min(math.Round(float64(stats.DownCount)/total*10000)/100,
		math.Round((100-stats.UpPercent)*100)/100)
	return stats
}
