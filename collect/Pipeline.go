package collect

import (
	"context"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/api"
	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

const insertCandleSQL = `INSERT INTO market_data (symbol, timestamp, period, open, high, low, close, volume, ` +
	`turnover, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (symbol, timestamp, period) DO NOTHING`

const insertSymbolSQL = `INSERT INTO symbol_info (symbol, name, base_asset, quote_asset, market_type, status, ` +
	`price_precision, quantity_precision, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` +
	`ON CONFLICT (symbol) DO NOTHING`

type IngestRequest struct {
	Symbol string
	Range  model.TimeRange
	Period string
	Source string
}

type Attempt struct {
	Source  string
	Fetched int
	Err     error
}

type IngestResult struct {
	Symbol   string
	Source   string
	Period   string
	Fetched  int
	Written  int64
	Attempts []Attempt
}

// Unavailable is true when nothing was fetched and some source failed for a reason other than having no data.
func (result *IngestResult) Unavailable() bool {
	if result.Source != `` {
		return false
	}
	for _, attempt := range result.Attempts {
		if attempt.Err != nil && errors.Cause(attempt.Err) != model.ErrEmptyDataset {
			return true
		}
	}
	return false
}

// Reason summarizes the failed attempts for the ledger message.
func (result *IngestResult) Reason() string {
	reasons := make([]string, 0, len(result.Attempts))
	for _, attempt := range result.Attempts {
		if attempt.Err != nil {
			reasons = append(reasons, attempt.Err.Error())
		}
	}
	return strings.Join(reasons, `; `)
}

type Pipeline struct {
	db       *gorm.DB
	selector *api.Selector
	period   string
	lookback time.Duration
	logger   *zap.Logger
}

func NewPipeline(db *gorm.DB, selector *api.Selector, config *model.Config, logger *zap.Logger) *Pipeline {
	pipeline := &Pipeline{db: db, selector: selector, period: config.Collector.DefaultPeriod,
		lookback: config.Collector.DefaultLookback, logger: logger.With(zap.String(`component`, `pipeline`))}
	if !model.ValidPeriod(pipeline.period) {
		pipeline.period = `1d`
	}
	if pipeline.lookback <= 0 {
		pipeline.lookback = 30 * 24 * time.Hour
	}
	return pipeline
}

// Ingest fetches one symbol with source fallback and persists new candles in one transaction.
// Exhausting every source is not an error: the result then carries zero written records.
func (pipeline *Pipeline) Ingest(ctx context.Context, request IngestRequest) (*IngestResult, error) {
	symbol := strings.ToUpper(strings.TrimSpace(request.Symbol))
	period := request.Period
	if period == `` {
		period = pipeline.period
	}
	result := &IngestResult{Symbol: symbol, Period: period}
	if symbol == `` {
		return result, errors.New(`symbol is required`)
	}
	if !model.ValidPeriod(period) {
		return result, errors.Wrapf(model.ErrUnsupported, `period %s`, period)
	}
	timeRange := request.Range
	if timeRange.End.IsZero() {
		timeRange.End = time.Now().UTC()
	}
	if timeRange.Start.IsZero() {
		timeRange.Start = timeRange.End.Add(-pipeline.lookback)
	}
	candidates, err := pipeline.selector.Candidates(symbol, request.Source)
	if err != nil {
		return result, err
	}
	for _, source := range candidates {
		if err = ctx.Err(); err != nil {
			return result, err
		}
		raw, err := source.Fetch(ctx, symbol, timeRange, period)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Attempts = append(result.Attempts, Attempt{Source: source.Name(), Err: err})
			if !model.IsProviderError(err) {
				pipeline.logger.Error(`unexpected source failure`, zap.String(`symbol`, symbol),
					zap.String(`source`, source.Name()), zap.Error(err))
				continue
			}
			pipeline.logger.Info(`source fallback`, zap.String(`symbol`, symbol),
				zap.String(`source`, source.Name()), zap.Error(err))
			continue
		}
		candles := Normalize(symbol, period, raw)
		result.Attempts = append(result.Attempts, Attempt{Source: source.Name(), Fetched: len(candles)})
		if len(candles) == 0 {
			continue
		}
		result.Source = source.Name()
		result.Fetched = len(candles)
		result.Written, err = pipeline.persist(ctx, symbol, candles)
		if err != nil {
			return result, err
		}
		pipeline.logger.Info(`ingested`, zap.String(`symbol`, symbol), zap.String(`source`, result.Source),
			zap.String(`period`, period), zap.Int(`fetched`, result.Fetched), zap.Int64(`written`, result.Written))
		return result, nil
	}
	pipeline.logger.Warn(`sources exhausted`, zap.String(`symbol`, symbol), zap.String(`reason`, result.Reason()))
	return result, nil
}

// Normalize converts raw rows into candles, keeping the first row per timestamp.
func Normalize(symbol, period string, raw []api.RawCandle) []model.Candle {
	seen := make(map[int64]bool, len(raw))
	candles := make([]model.Candle, 0, len(raw))
	for _, item := range raw {
		if item.Time.IsZero() {
			continue
		}
		ts := item.Time.UTC()
		if seen[ts.UnixNano()] {
			continue
		}
		seen[ts.UnixNano()] = true
		candle := model.Candle{Symbol: symbol, Timestamp: ts, Period: period, Open: util.ToFloat(item.Open),
			High: util.ToFloat(item.High), Low: util.ToFloat(item.Low), Close: util.ToFloat(item.Close),
			Volume: util.ToFloat(item.Volume)}
		if item.Turnover != nil {
			turnover := util.ToFloat(item.Turnover)
			candle.Turnover = &turnover
		}
		candles = append(candles, candle)
	}
	return candles
}

// persist inserts candles skip-if-exists and registers a first-seen symbol, all or nothing.
func (pipeline *Pipeline) persist(ctx context.Context, symbol string, candles []model.Candle) (written int64,
	err error) {
	tx := pipeline.db.Begin()
	if tx.Error != nil {
		return 0, errors.Wrapf(model.ErrPersistence, `begin: %v`, tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if err != nil {
			tx.Rollback()
		}
	}()
	now := time.Now().UTC()
	for _, candle := range candles {
		if err = ctx.Err(); err != nil {
			return 0, err
		}
		exec := tx.Exec(insertCandleSQL, candle.Symbol, candle.Timestamp, candle.Period, candle.Open, candle.High,
			candle.Low, candle.Close, candle.Volume, candle.Turnover, now)
		if exec.Error != nil {
			return 0, errors.Wrapf(model.ErrPersistence, `insert candle %s %s: %v`, symbol,
				candle.Timestamp.Format(time.RFC3339), exec.Error)
		}
		written += exec.RowsAffected
	}
	info := model.NewSymbolInfo(symbol)
	info.PricePrecision = util.GetPrecision(candles[len(candles)-1].Close)
	exec := tx.Exec(insertSymbolSQL, info.Symbol, info.Name, info.BaseAsset, info.QuoteAsset, info.MarketType,
		info.Status, info.PricePrecision, info.QuantityPrecision, now, now)
	if exec.Error != nil {
		return 0, errors.Wrapf(model.ErrPersistence, `register symbol %s: %v`, symbol, exec.Error)
	}
	if err = ctx.Err(); err != nil {
		return 0, err
	}
	if err = tx.Commit().Error; err != nil {
		return 0, errors.Wrapf(model.ErrPersistence, `commit: %v`, err)
	}
	return written, nil
}
