package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

// Engine computes market summaries; it only reads.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(db *gorm.DB, logger *zap.Logger) *Engine {
	return &Engine{db: db, logger: logger.With(zap.String(`component`, `summary`)),
		now: func() time.Time { return time.Now().UTC() }}
}

type latestTicker struct {
	symbol        string
	name          string
	changePercent float64
	volume        float64
}

// Summarize never fails: an internal error yields a zero summary carrying the error text.
func (engine *Engine) Summarize(ctx context.Context, segment, window string) (summary model.MarketSummary) {
	window, length := model.WindowDuration(window)
	end := engine.now()
	start := end.Add(-length)
	defer func() {
		if r := recover(); r != nil {
			engine.logger.Error(`summary panic`, zap.Any(`panic`, r))
			summary = model.EmptySummary(segment, window, start, end, errors.Errorf(`summary failed: %v`, r))
		}
	}()
	summary, err := engine.summarize(ctx, segment, window, start, end)
	if err != nil {
		engine.logger.Error(`summary failed`, zap.String(`market_type`, segment), zap.String(`time_range`, window),
			zap.Error(err))
		return model.EmptySummary(segment, window, start, end, err)
	}
	return summary
}

func (engine *Engine) summarize(ctx context.Context, segment, window string, start, end time.Time) (
	model.MarketSummary, error) {
	summary := model.EmptySummary(segment, window, start, end, nil)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	counts, total, err := engine.segmentCounts(segment)
	if err != nil {
		return summary, err
	}
	summary.MarketTypeCounts = counts
	summary.TotalSymbols = total

	if summary.TotalVolume, summary.TotalTurnover, err = engine.windowTotals(segment, start, end); err != nil {
		return summary, err
	}
	if summary.TotalSymbols > 0 {
		summary.AvgVolumePerSymbol = summary.TotalVolume / float64(summary.TotalSymbols)
	}

	if err = ctx.Err(); err != nil {
		return summary, err
	}
	latest, err := engine.latestTickers(segment, start, end)
	if err != nil {
		return summary, err
	}
	changes := make([]float64, 0, len(latest))
	for _, ticker := range latest {
		changes = append(changes, ticker.changePercent)
		if summary.TopVolumeSymbol == nil || ticker.volume > summary.TopVolumeSymbol.Volume {
			summary.TopVolumeSymbol = &model.TopVolume{Symbol: ticker.symbol, Volume: ticker.volume,
				Name: ticker.name}
		}
	}
	summary.PriceChangeStats = model.ChangeStats(changes)

	if summary.LatestUpdateTime, err = engine.latestCandle(segment); err != nil {
		return summary, err
	}
	summary.ActivityScore = model.ActivityScore(summary.TotalVolume, summary.TotalSymbols)
	summary.Timestamp = engine.now()
	return summary, nil
}

// segmentCounts groups active symbols by segment; null or blank segments count as unknown.
func (engine *Engine) segmentCounts(segment string) (map[string]int, int, error) {
	query := engine.db.Table(`symbol_info`).Select(`market_type, COUNT(*)`).Where(`status = ?`, model.StatusActive)
	if segment != `` {
		query = query.Where(`market_type = ?`, segment)
	}
	rows, err := query.Group(`market_type`).Rows()
	if err != nil {
		return nil, 0, errors.Wrap(err, `count symbols`)
	}
	defer rows.Close()
	counts := make(map[string]int)
	total := 0
	for rows.Next() {
		var marketType sql.NullString
		var count int
		if err = rows.Scan(&marketType, &count); err != nil {
			return nil, 0, errors.Wrap(err, `scan symbol count`)
		}
		key := marketType.String
		if !marketType.Valid || key == `` {
			key = model.SegmentUnknown
		}
		counts[key] += count
		total += count
	}
	return counts, total, errors.Wrap(rows.Err(), `iterate symbol counts`)
}

func (engine *Engine) windowTotals(segment string, start, end time.Time) (float64, float64, error) {
	query := engine.db.Table(`market_ticker t`).Select(`SUM(t.volume), SUM(t.turnover)`)
	if segment != `` {
		query = query.Joins(`JOIN symbol_info s ON s.symbol = t.symbol`).Where(`s.market_type = ?`, segment)
	}
	rows, err := query.Where(`t.timestamp >= ? AND t.timestamp <= ?`, start, end).Rows()
	if err != nil {
		return 0, 0, errors.Wrap(err, `sum ticker volume`)
	}
	defer rows.Close()
	var volume, turnover sql.NullFloat64
	if rows.Next() {
		if err = rows.Scan(&volume, &turnover); err != nil {
			return 0, 0, errors.Wrap(err, `scan ticker volume`)
		}
	}
	return volume.Float64, turnover.Float64, errors.Wrap(rows.Err(), `iterate ticker volume`)
}

// latestTickers keeps the newest row per symbol inside the window.
func (engine *Engine) latestTickers(segment string, start, end time.Time) ([]latestTicker, error) {
	args := []interface{}{start, end}
	sqlText := `SELECT t.symbol, t.price_change_percent, t.volume, s.name FROM market_ticker t ` +
		`JOIN (SELECT symbol, MAX(timestamp) AS ts FROM market_ticker WHERE timestamp >= ? AND timestamp <= ? ` +
		`GROUP BY symbol) latest ON latest.symbol = t.symbol AND latest.ts = t.timestamp ` +
		`LEFT JOIN symbol_info s ON s.symbol = t.symbol`
	if segment != `` {
		sqlText += ` WHERE s.market_type = ?`
		args = append(args, segment)
	}
	rows, err := engine.db.Raw(sqlText+` ORDER BY t.symbol`, args...).Rows()
	if err != nil {
		return nil, errors.Wrap(err, `query latest tickers`)
	}
	defer rows.Close()
	seen := make(map[string]bool)
	result := make([]latestTicker, 0)
	for rows.Next() {
		var ticker latestTicker
		var name sql.NullString
		var change, volume sql.NullFloat64
		if err = rows.Scan(&ticker.symbol, &change, &volume, &name); err != nil {
			return nil, errors.Wrap(err, `scan latest ticker`)
		}
		if seen[ticker.symbol] {
			continue
		}
		seen[ticker.symbol] = true
		ticker.changePercent = change.Float64
		ticker.volume = volume.Float64
		ticker.name = ticker.symbol
		if name.Valid && name.String != `` {
			ticker.name = name.String
		}
		result = append(result, ticker)
	}
	return result, errors.Wrap(rows.Err(), `iterate latest tickers`)
}

// latestCandle reports the newest candle of active symbols as RFC3339; unparsable values pass through as text.
func (engine *Engine) latestCandle(segment string) (string, error) {
	query := engine.db.Table(`market_data m`).Select(`MAX(m.timestamp)`).
		Joins(`JOIN symbol_info s ON s.symbol = m.symbol`).Where(`s.status = ?`, model.StatusActive)
	if segment != `` {
		query = query.Where(`s.market_type = ?`, segment)
	}
	rows, err := query.Rows()
	if err != nil {
		return ``, errors.Wrap(err, `query latest candle`)
	}
	defer rows.Close()
	var value interface{}
	if rows.Next() {
		if err = rows.Scan(&value); err != nil {
			return ``, errors.Wrap(err, `scan latest candle`)
		}
	}
	if value == nil {
		return ``, nil
	}
	latest, err := util.ParseTime(value)
	if err != nil {
		engine.logger.Warn(`malformed candle timestamp`, zap.Error(err))
		if text, ok := value.([]byte); ok {
			return string(text), nil
		}
		return fmt.Sprint(value), nil
	}
	return latest.Format(time.RFC3339Nano), nil
}
