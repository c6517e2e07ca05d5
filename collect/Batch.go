package collect

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

const autoSource = `auto`

type BatchOptions struct {
	Period string
	Range  model.TimeRange
}

type SymbolResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	DataCount int64  `json:"data_count"`
	Source    string `json:"data_source"`
	TaskID    string `json:"task_id"`
	Err       error  `json:"-"`
}

type BatchResult struct {
	TaskID       string                  `json:"task_id"`
	Results      map[string]SymbolResult `json:"results"`
	SuccessCount int                     `json:"success_count"`
	TotalCount   int                     `json:"total_count"`
}

// Collector runs the pipeline over many symbols with bounded concurrency, isolating each symbol's outcome.
type Collector struct {
	pipeline       *Pipeline
	ledger         *Ledger
	maxConcurrency int
	logger         *zap.Logger
}

func NewCollector(pipeline *Pipeline, ledger *Ledger, maxConcurrency int, logger *zap.Logger) *Collector {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Collector{pipeline: pipeline, ledger: ledger, maxConcurrency: maxConcurrency,
		logger: logger.With(zap.String(`component`, `collector`))}
}

func uniqueSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	result := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == `` || seen[symbol] {
			continue
		}
		seen[symbol] = true
		result = append(result, symbol)
	}
	return result
}

func sourceLabel(source string) string {
	if source == `` {
		return autoSource
	}
	return source
}

// CollectOne ingests a single symbol under its own ledger task.
func (collector *Collector) CollectOne(ctx context.Context, symbol, source string, options BatchOptions) SymbolResult {
	return collector.run(ctx, strings.ToUpper(strings.TrimSpace(symbol)), source, options)
}

// CollectBatch returns exactly one result per distinct non-blank input symbol, whatever happens to the others.
// Blank entries are ignored; a batch without symbols is empty and records no ledger task.
func (collector *Collector) CollectBatch(ctx context.Context, symbols []string, source string,
	options BatchOptions) (*BatchResult, error) {
	symbols = uniqueSymbols(symbols)
	batch := &BatchResult{Results: make(map[string]SymbolResult, len(symbols)), TotalCount: len(symbols)}
	if len(symbols) == 0 {
		return batch, nil
	}
	batchID, err := collector.ledger.RecordStart(ctx, strings.Join(symbols, `,`), sourceLabel(source))
	if err != nil {
		collector.logger.Error(`batch task not recorded`, zap.Error(err))
	}
	batch.TaskID = batchID

	var lock sync.Mutex
	workers := pool.New().WithMaxGoroutines(collector.maxConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		workers.Go(func() {
			result := collector.run(ctx, symbol, source, options)
			lock.Lock()
			batch.Results[symbol] = result
			lock.Unlock()
		})
	}
	workers.Wait()

	for _, result := range batch.Results {
		if result.Success {
			batch.SuccessCount++
		}
	}
	status := model.TaskStatusSuccess
	if batch.SuccessCount < batch.TotalCount {
		status = model.TaskStatusFailed
	}
	var total int64
	for _, result := range batch.Results {
		total += result.DataCount
	}
	if batchID != `` {
		message := fmt.Sprintf(`%d/%d symbols succeeded`, batch.SuccessCount, batch.TotalCount)
		if err = collector.ledger.RecordEnd(ctx, batchID, status, message, total); err != nil {
			collector.logger.Error(`batch task not closed`, zap.String(`task_id`, batchID), zap.Error(err))
		}
	}
	collector.logger.Info(`batch collected`, zap.Int(`symbols`, batch.TotalCount),
		zap.Int(`succeeded`, batch.SuccessCount), zap.Int64(`written`, total))
	return batch, nil
}

// run never panics and always leaves its ledger task terminal.
func (collector *Collector) run(ctx context.Context, symbol, source string, options BatchOptions) (
	result SymbolResult) {
	taskID, err := collector.ledger.RecordStart(ctx, symbol, sourceLabel(source))
	if err != nil {
		collector.logger.Error(`task not recorded`, zap.String(`symbol`, symbol), zap.Error(err))
	}
	result.TaskID = taskID
	defer func() {
		if r := recover(); r != nil {
			collector.logger.Error(`ingestion panic`, zap.String(`symbol`, symbol), zap.Any(`panic`, r))
			result = SymbolResult{TaskID: taskID, Message: fmt.Sprintf(`ingestion panic: %v`, r),
				Err: errors.Errorf(`ingestion panic: %v`, r)}
		}
		if taskID == `` {
			return
		}
		status := model.TaskStatusFailed
		if result.Success {
			status = model.TaskStatusSuccess
		}
		if err := collector.ledger.RecordEnd(ctx, taskID, status, result.Message, result.DataCount); err != nil {
			collector.logger.Error(`task not closed`, zap.String(`task_id`, taskID), zap.Error(err))
		}
	}()

	ingested, err := collector.pipeline.Ingest(ctx, IngestRequest{Symbol: symbol, Range: options.Range,
		Period: options.Period, Source: source})
	result.Source = ingested.Source
	switch {
	case err != nil:
		result.Message = err.Error()
		result.Err = err
	case ingested.Unavailable():
		result.Message = `all sources failed: ` + ingested.Reason()
		result.Err = errors.Wrap(model.ErrUnavailable, result.Message)
	case ingested.Source == ``:
		result.Success = true
		result.Message = `no data available for range`
	default:
		result.Success = true
		result.DataCount = ingested.Written
		result.Message = fmt.Sprintf(`wrote %d of %d candles from %s`, ingested.Written, ingested.Fetched,
			ingested.Source)
	}
	return result
}
