package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/api"
	"github.com/upupup126/quant-trading-platform/collect"
	"github.com/upupup126/quant-trading-platform/market"
	"github.com/upupup126/quant-trading-platform/model"
)

type SnapshotSource interface {
	Snapshotter(segment string) (api.Snapshotter, error)
}

type SnapshotWriter interface {
	SaveTicker(ticker *model.Ticker) error
	SaveOrderBook(symbol string, timestamp time.Time, bids, asks [][2]float64) error
}

// Updater polls a fixed symbol list through the collector until its context ends.
type Updater struct {
	collector BatchCollector
	cache     market.SummaryCache
	symbols   []string
	interval  time.Duration
	logger    *zap.Logger

	snapshots SnapshotSource
	writer    SnapshotWriter
	depth     int
}

func NewUpdater(collector BatchCollector, cache market.SummaryCache, symbols []string, interval time.Duration,
	logger *zap.Logger) *Updater {
	if cache == nil {
		cache = market.NopCache{}
	}
	return &Updater{collector: collector, cache: cache, symbols: symbols, interval: interval,
		logger: logger.With(zap.String(`component`, `updater`))}
}

// WithSnapshots makes every pass also record the ticker and order book of symbols whose segment has a snapshotter.
func (updater *Updater) WithSnapshots(snapshots SnapshotSource, writer SnapshotWriter, depth int) *Updater {
	updater.snapshots = snapshots
	updater.writer = writer
	updater.depth = depth
	return updater
}

func (updater *Updater) Enabled() bool {
	return updater.interval > 0 && len(updater.symbols) > 0
}

// Maintain runs one pass immediately, then one per interval.
func (updater *Updater) Maintain(ctx context.Context) {
	if !updater.Enabled() {
		updater.logger.Info(`polling updater disabled`)
		return
	}
	updater.logger.Info(`start polling`, zap.Strings(`symbols`, updater.symbols),
		zap.Duration(`interval`, updater.interval))
	ticker := time.NewTicker(updater.interval)
	defer ticker.Stop()
	for {
		updater.pass(ctx)
		select {
		case <-ctx.Done():
			updater.logger.Info(`stop polling`)
			return
		case <-ticker.C:
		}
	}
}

func (updater *Updater) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	batch, err := updater.collector.CollectBatch(ctx, updater.symbols, ``, collect.BatchOptions{})
	if err != nil {
		updater.logger.Error(`poll batch`, zap.Error(err))
		return
	}
	snapshots := updater.snapshot(ctx)
	if batch.SuccessCount > 0 || snapshots > 0 {
		updater.cache.Invalidate(ctx)
	}
	updater.logger.Info(`poll finished`, zap.String(`task_id`, batch.TaskID), zap.Int(`succeeded`, batch.SuccessCount),
		zap.Int(`symbols`, batch.TotalCount), zap.Int(`snapshots`, snapshots))
}

// snapshot records tickers and order books; a failed symbol is logged and skipped.
func (updater *Updater) snapshot(ctx context.Context) (saved int) {
	if updater.snapshots == nil || updater.writer == nil {
		return 0
	}
	for _, symbol := range updater.symbols {
		if ctx.Err() != nil {
			return saved
		}
		snapshotter, err := updater.snapshots.Snapshotter(model.DetectSegment(symbol))
		if err != nil {
			continue
		}
		ticker, err := snapshotter.Ticker(ctx, symbol)
		if err == nil {
			err = updater.writer.SaveTicker(ticker)
		}
		if err != nil {
			updater.logger.Warn(`ticker snapshot`, zap.String(`symbol`, symbol), zap.Error(err))
			continue
		}
		depth, err := snapshotter.Depth(ctx, symbol, updater.depth)
		if err == nil {
			err = updater.writer.SaveOrderBook(depth.Symbol, depth.Timestamp, depth.Bids, depth.Asks)
		}
		if err != nil {
			updater.logger.Warn(`order book snapshot`, zap.String(`symbol`, symbol), zap.Error(err))
			continue
		}
		saved++
	}
	return saved
}
