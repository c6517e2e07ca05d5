package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/collect"
	"github.com/upupup126/quant-trading-platform/market"
	"github.com/upupup126/quant-trading-platform/model"
)

const freshness = 24 * time.Hour

type Summarizer interface {
	Summarize(ctx context.Context, segment, window string) model.MarketSummary
}

type BatchCollector interface {
	CollectBatch(ctx context.Context, symbols []string, source string, options collect.BatchOptions) (
		*collect.BatchResult, error)
}

type SymbolLister interface {
	ActiveSymbols(segment string) ([]string, error)
}

type SourcePicker interface {
	FirstCredentialed(segment string) string
}

// Trigger serves summaries and refreshes stale data synchronously, bounded by timeout.
type Trigger struct {
	engine    Summarizer
	collector BatchCollector
	symbols   SymbolLister
	sources   SourcePicker
	cache     market.SummaryCache
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewTrigger(engine Summarizer, collector BatchCollector, symbols SymbolLister, sources SourcePicker,
	cache market.SummaryCache, timeout time.Duration, logger *zap.Logger) *Trigger {
	if cache == nil {
		cache = market.NopCache{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Trigger{engine: engine, collector: collector, symbols: symbols, sources: sources, cache: cache,
		timeout: timeout, logger: logger.With(zap.String(`component`, `refresh`)),
		now: func() time.Time { return time.Now().UTC() }}
}

// IsSufficient checks symbols exist, the newest candle is under a day old and a 24h window saw volume.
// Each failed condition is returned as a reason.
func IsSufficient(summary model.MarketSummary, now time.Time, logger *zap.Logger) (bool, []string) {
	reasons := make([]string, 0, 3)
	if summary.Failed() {
		reasons = append(reasons, `summary failed: `+*summary.Error)
	}
	if summary.TotalSymbols <= 0 {
		reasons = append(reasons, `no active symbols`)
	}
	if summary.LatestUpdateTime == `` {
		reasons = append(reasons, `no candles`)
	} else if latest, ok := summary.LatestUpdate(); !ok {
		logger.Warn(`malformed latest update time`, zap.String(`latest_update_time`, summary.LatestUpdateTime))
		reasons = append(reasons, `malformed latest update time`)
	} else if now.Sub(latest) > freshness {
		reasons = append(reasons, `candles older than 24h`)
	}
	if summary.TimeRange == model.Window24h && summary.TotalVolume == 0 {
		reasons = append(reasons, `no volume in 24h`)
	}
	return len(reasons) == 0, reasons
}

// improved reports whether refreshed carries newer candles, more volume or more symbols than original.
func improved(original, refreshed model.MarketSummary) bool {
	if refreshed.TotalSymbols > original.TotalSymbols || refreshed.TotalVolume > original.TotalVolume {
		return true
	}
	after, ok := refreshed.LatestUpdate()
	if !ok {
		return false
	}
	before, ok := original.LatestUpdate()
	return !ok || after.After(before)
}

func (trigger *Trigger) Summary(ctx context.Context, segment, window string) model.MarketSummary {
	window, _ = model.WindowDuration(window)
	if cached, ok := trigger.cache.Get(ctx, segment, window); ok {
		return *cached
	}
	summary := trigger.engine.Summarize(ctx, segment, window)
	sufficient, reasons := IsSufficient(summary, trigger.now(), trigger.logger)
	if sufficient {
		trigger.cache.Set(ctx, summary)
		return summary
	}
	trigger.logger.Info(`summary data insufficient`, zap.String(`market_type`, segment),
		zap.String(`time_range`, window), zap.Strings(`reasons`, reasons))
	if !trigger.refresh(ctx, segment) {
		return summary
	}
	refreshed := trigger.engine.Summarize(ctx, segment, window)
	if refreshed.Failed() {
		return summary
	}
	if ok, _ := IsSufficient(refreshed, trigger.now(), trigger.logger); ok {
		trigger.cache.Set(ctx, refreshed)
		return refreshed
	}
	if improved(summary, refreshed) {
		return refreshed
	}
	return summary
}

// refreshTarget resolves the segment to refresh and the naming convention its symbols must follow.
// Without a segment the exchange-listed equities are refreshed: a_share rows with a .SH/.SZ suffix.
func refreshTarget(segment string) (target, convention string) {
	if segment == `` {
		return model.SegmentAShare, ``
	}
	return segment, segment
}

// refresh collects the segment's conventional symbols and reports whether any batch finished in time.
func (trigger *Trigger) refresh(ctx context.Context, segment string) bool {
	target, convention := refreshTarget(segment)
	symbols, err := trigger.symbols.ActiveSymbols(target)
	if err != nil {
		trigger.logger.Error(`resolve refresh symbols`, zap.Error(err))
		return false
	}
	qualified := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if model.MatchesSegment(symbol, convention) {
			qualified = append(qualified, symbol)
		}
	}
	if len(qualified) == 0 {
		trigger.logger.Info(`nothing to refresh`, zap.String(`market_type`, target))
		return false
	}
	source := trigger.sources.FirstCredentialed(target)
	ctx, cancel := context.WithTimeout(ctx, trigger.timeout)
	defer cancel()
	done := make(chan *collect.BatchResult, 1)
	go func() {
		batch, err := trigger.collector.CollectBatch(ctx, qualified, source, collect.BatchOptions{})
		if err != nil {
			trigger.logger.Error(`refresh batch`, zap.Error(err))
		}
		done <- batch
	}()
	select {
	case batch := <-done:
		if batch == nil {
			return false
		}
		trigger.logger.Info(`refresh finished`, zap.String(`task_id`, batch.TaskID),
			zap.Int(`succeeded`, batch.SuccessCount), zap.Int(`symbols`, batch.TotalCount))
		if batch.SuccessCount > 0 {
			trigger.cache.Invalidate(ctx)
		}
		return batch.SuccessCount > 0
	case <-ctx.Done():
		trigger.logger.Warn(`refresh timed out`, zap.Duration(`timeout`, trigger.timeout),
			zap.Int(`symbols`, len(qualified)))
		return false
	}
}
