package collect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/api"
	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

type fakeSource struct {
	name     string
	requires bool
	calls    int32
	fetch    func(ctx context.Context, symbol string) ([]api.RawCandle, error)
}

func (fake *fakeSource) Name() string             { return fake.name }
func (fake *fakeSource) Segments() []string       { return nil }
func (fake *fakeSource) RequiresCredential() bool { return fake.requires }
func (fake *fakeSource) HasCredential() bool      { return false }
func (fake *fakeSource) Fetch(ctx context.Context, symbol string, _ model.TimeRange, _ string) ([]api.RawCandle, error) {
	atomic.AddInt32(&fake.calls, 1)
	if fake.fetch == nil {
		return nil, model.ErrEmptyDataset
	}
	return fake.fetch(ctx, symbol)
}

func rawCandles(n int) []api.RawCandle {
	base := time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(n) * time.Hour)
	candles := make([]api.RawCandle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, api.RawCandle{Time: base.Add(time.Duration(i) * time.Hour), Open: `10.5`,
			High: `11`, Low: `10`, Close: `10.75`, Volume: `1000`, Turnover: nil})
	}
	return candles
}

func testDB(t *testing.T) *gorm.DB {
	db, closeDB, err := util.OpenDB(context.Background(), `sqlite3`, `:memory:`, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(closeDB)
	if err = model.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

type fixture struct {
	db        *gorm.DB
	binance   *fakeSource
	yahoo     *fakeSource
	eastmoney *fakeSource
	pipeline  *Pipeline
	ledger    *Ledger
	collector *Collector
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{db: testDB(t), binance: &fakeSource{name: model.Binance},
		yahoo: &fakeSource{name: model.YahooFinance}, eastmoney: &fakeSource{name: model.Eastmoney}}
	selector := api.NewSelector([]api.Source{f.binance, f.yahoo, f.eastmoney}, nil, zap.NewNop())
	f.pipeline = NewPipeline(f.db, selector, model.NewConfig(), zap.NewNop())
	f.ledger = NewLedger(f.db, nil, zap.NewNop())
	f.collector = NewCollector(f.pipeline, f.ledger, 2, zap.NewNop())
	return f
}

func (f *fixture) candleCount(t *testing.T) int {
	var count int
	if err := f.db.Model(&model.Candle{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	return count
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.binance.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		return rawCandles(3), nil
	}
	first, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `btcusdt`, Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if first.Written != 3 || first.Source != model.Binance || first.Symbol != `BTCUSDT` {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `BTCUSDT`, Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if second.Written != 0 || second.Fetched != 3 {
		t.Errorf("re-ingestion wrote %d rows", second.Written)
	}
	if count := f.candleCount(t); count != 3 {
		t.Errorf("expected 3 rows, got %d", count)
	}
	info := model.SymbolInfo{}
	if err = f.db.Where(`symbol = ?`, `BTCUSDT`).First(&info).Error; err != nil {
		t.Fatal(err)
	}
	if info.MarketType != model.SegmentCrypto || info.Status != model.StatusActive || info.QuoteAsset != `USDT` {
		t.Errorf("unexpected symbol info %+v", info)
	}
}

func TestIngestDeduplicatesTimestamps(t *testing.T) {
	f := newFixture(t)
	f.binance.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		candles := rawCandles(2)
		duplicate := candles[1]
		duplicate.Close = `99`
		return append(candles, duplicate), nil
	}
	result, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `ETHUSDT`, Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if result.Fetched != 2 || result.Written != 2 {
		t.Errorf("unexpected result %+v", result)
	}
	candles := make([]model.Candle, 0)
	f.db.Where(`close = ?`, 99).Find(&candles)
	if len(candles) != 0 {
		t.Error("the first row per timestamp must win")
	}
}

func TestNormalizeToleratesMissingFields(t *testing.T) {
	candles := Normalize(`AAPL`, `1d`, []api.RawCandle{
		{Time: time.Unix(100, 0), Close: `1.5`},
		{},
		{Time: time.Unix(200, 0), Open: 2, Turnover: `12.5`},
	})
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Open != 0 || candles[0].Close != 1.5 || candles[0].Turnover != nil {
		t.Errorf("unexpected first candle %+v", candles[0])
	}
	if candles[1].Turnover == nil || *candles[1].Turnover != 12.5 || candles[1].Open != 2 {
		t.Errorf("unexpected second candle %+v", candles[1])
	}
}

func TestIngestFallsBack(t *testing.T) {
	f := newFixture(t)
	alpha := &fakeSource{name: model.AlphaVantage, fetch: func(context.Context, string) ([]api.RawCandle, error) {
		return rawCandles(2), nil
	}}
	f.binance.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		return nil, errors.Wrap(model.ErrUnavailable, `binance http 503`)
	}
	selector := api.NewSelector([]api.Source{f.binance, alpha}, nil, zap.NewNop())
	pipeline := NewPipeline(f.db, selector, model.NewConfig(), zap.NewNop())
	result, err := pipeline.Ingest(context.Background(), IngestRequest{Symbol: `BTCUSDT`, Period: `1h`,
		Source: model.AlphaVantage})
	if err != nil {
		t.Fatal(err)
	}
	if result.Source != model.AlphaVantage || atomic.LoadInt32(&f.binance.calls) != 0 {
		t.Errorf("explicit source must be tried first, got %+v", result)
	}
	alpha.fetch = nil
	result, err = pipeline.Ingest(context.Background(), IngestRequest{Symbol: `BTCUSDT`, Period: `1h`,
		Source: model.AlphaVantage})
	if err != nil {
		t.Fatal(err)
	}
	if result.Written != 0 || !result.Unavailable() || len(result.Attempts) != 2 {
		t.Errorf("expected soft unavailable result, got %+v", result)
	}
}

func TestIngestEmptyEverywhereIsSoft(t *testing.T) {
	f := newFixture(t)
	result, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `000001.SZ`})
	if err != nil {
		t.Fatal(err)
	}
	if result.Written != 0 || result.Unavailable() {
		t.Errorf("empty dataset is not a failure: %+v", result)
	}
}

func TestIngestErrors(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `BTCUSDT`, Period: `7m`}); errors.Cause(err) != model.ErrUnsupported {
		t.Errorf("expected unsupported period, got %v", err)
	}
	if _, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `AAPL`, Source: `bloomberg`}); errors.Cause(err) != model.ErrUnknownSource {
		t.Errorf("expected unknown source, got %v", err)
	}
	selector := api.NewSelector([]api.Source{f.binance}, nil, zap.NewNop())
	pipeline := NewPipeline(f.db, selector, model.NewConfig(), zap.NewNop())
	if _, err := pipeline.Ingest(context.Background(), IngestRequest{Symbol: `AAPL`}); errors.Cause(err) != model.ErrNoSourceAvailable {
		t.Errorf("expected no source, got %v", err)
	}
}

func TestIngestPersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.binance.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		return rawCandles(2), nil
	}
	f.db.DropTable(&model.SymbolInfo{})
	_, err := f.pipeline.Ingest(context.Background(), IngestRequest{Symbol: `BTCUSDT`, Period: `1h`})
	if errors.Cause(err) != model.ErrPersistence {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	if count := f.candleCount(t); count != 0 {
		t.Errorf("transaction must roll back, found %d rows", count)
	}
}

func TestCollectBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.binance.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		return rawCandles(4), nil
	}
	f.yahoo.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		return nil, model.ErrUnavailable
	}
	batch, err := f.collector.CollectBatch(context.Background(), []string{`BTCUSDT`, `AAPL`, `000001.SZ`, `btcusdt`},
		``, BatchOptions{Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Results) != 3 || batch.TotalCount != 3 {
		t.Fatalf("expected one entry per symbol, got %+v", batch.Results)
	}
	if r := batch.Results[`BTCUSDT`]; !r.Success || r.DataCount != 4 || r.Source != model.Binance {
		t.Errorf("BTCUSDT: %+v", r)
	}
	if r := batch.Results[`AAPL`]; r.Success {
		t.Errorf("AAPL should fail: %+v", r)
	}
	if r := batch.Results[`000001.SZ`]; !r.Success || r.DataCount != 0 {
		t.Errorf("000001.SZ should be a soft success: %+v", r)
	}
	if batch.SuccessCount != 2 {
		t.Errorf("expected 2 successes, got %d", batch.SuccessCount)
	}
	for symbol, result := range batch.Results {
		task, err := f.ledger.Query(result.TaskID)
		if err != nil {
			t.Fatal(err)
		}
		if task.Symbol != symbol || !task.Terminal() || task.EndTime == nil {
			t.Errorf("ledger entry for %s not terminal: %+v", symbol, task)
		}
	}
	task, err := f.ledger.Query(batch.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != model.TaskStatusFailed || task.DataCount != 4 {
		t.Errorf("unexpected batch task %+v", task)
	}
}

func TestCollectBatchRecoversPanics(t *testing.T) {
	f := newFixture(t)
	f.binance.fetch = func(_ context.Context, symbol string) ([]api.RawCandle, error) {
		if symbol == `ETHUSDT` {
			panic(`malformed reply`)
		}
		return rawCandles(1), nil
	}
	batch, err := f.collector.CollectBatch(context.Background(), []string{`ETHUSDT`, `BTCUSDT`}, ``,
		BatchOptions{Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if batch.Results[`ETHUSDT`].Success || !batch.Results[`BTCUSDT`].Success {
		t.Errorf("unexpected results %+v", batch.Results)
	}
	task, _ := f.ledger.Query(batch.Results[`ETHUSDT`].TaskID)
	if task.Status != model.TaskStatusFailed {
		t.Errorf("panicking task must be failed, got %s", task.Status)
	}
}

func TestCollectBatchCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.binance.fetch = func(ctx context.Context, _ string) ([]api.RawCandle, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	batch, err := f.collector.CollectBatch(ctx, []string{`BTCUSDT`, `ETHUSDT`, `SOLUSDT`}, ``,
		BatchOptions{Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Results) != 3 || batch.SuccessCount != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	tasks, err := f.ledger.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 ledger tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != model.TaskStatusFailed {
			t.Errorf("task %s left %s", task.Symbol, task.Status)
		}
	}
}

func TestCollectBatchEmptyInput(t *testing.T) {
	f := newFixture(t)
	for _, symbols := range [][]string{nil, {` `, ``}} {
		batch, err := f.collector.CollectBatch(context.Background(), symbols, ``, BatchOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if batch.TotalCount != 0 || batch.SuccessCount != 0 || batch.Results == nil || len(batch.Results) != 0 ||
			batch.TaskID != `` {
			t.Errorf("expected an empty batch for %q, got %+v", symbols, batch)
		}
	}
	if atomic.LoadInt32(&f.binance.calls) != 0 {
		t.Error("no source may be called for an empty batch")
	}
}

func TestCollectBatchBoundsConcurrency(t *testing.T) {
	f := newFixture(t)
	var inFlight, peak int32
	f.binance.fetch = func(context.Context, string) ([]api.RawCandle, error) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&peak)
			if current <= seen || atomic.CompareAndSwapInt32(&peak, seen, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return rawCandles(1), nil
	}
	symbols := []string{`BTCUSDT`, `ETHUSDT`, `BNBUSDT`, `SOLUSDT`, `XRPUSDT`, `ADAUSDT`, `DOGEUSDT`, `LTCUSDT`}
	batch, err := f.collector.CollectBatch(context.Background(), symbols, ``, BatchOptions{Period: `1h`})
	if err != nil {
		t.Fatal(err)
	}
	if batch.SuccessCount != len(symbols) {
		t.Fatalf("expected every symbol to succeed, got %+v", batch.Results)
	}
	if got := atomic.LoadInt32(&f.binance.calls); got != int32(len(symbols)) {
		t.Errorf("expected %d fetches, got %d", len(symbols), got)
	}
	if highest := atomic.LoadInt32(&peak); highest < 1 || highest > int32(f.collector.maxConcurrency) {
		t.Errorf("peak of %d concurrent fetches exceeds the cap of %d", highest, f.collector.maxConcurrency)
	}
}

func TestLedgerQuery(t *testing.T) {
	f := newFixture(t)
	idle, err := f.ledger.Query(``)
	if err != nil {
		t.Fatal(err)
	}
	if idle.Status != model.TaskStatusIdle {
		t.Errorf("expected idle placeholder, got %+v", idle)
	}
	if _, err = f.ledger.Query(`missing`); errors.Cause(err) != model.ErrNotFound {
		t.Errorf("expected not found, got %v", err)
	}
	if err = f.ledger.RecordEnd(context.Background(), `missing`, model.TaskStatusSuccess, ``, 0); errors.Cause(err) != model.ErrNotFound {
		t.Errorf("expected not found, got %v", err)
	}
	id, err := f.ledger.RecordStart(context.Background(), `AAPL`, model.YahooFinance)
	if err != nil {
		t.Fatal(err)
	}
	latest, _ := f.ledger.Query(``)
	if latest.TaskID != id || latest.Status != model.TaskStatusRunning {
		t.Errorf("unexpected latest %+v", latest)
	}
	if err = f.ledger.RecordEnd(context.Background(), id, model.TaskStatusSuccess, `ok`, 7); err != nil {
		t.Fatal(err)
	}
	latest, _ = f.ledger.Query(``)
	if latest.Status != model.TaskStatusSuccess || latest.DataCount != 7 || latest.Message != `ok` {
		t.Errorf("unexpected latest %+v", latest)
	}
}

type fakeWriter struct {
	lock     sync.Mutex
	messages []kafka.Message
	err      error
}

func (writer *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	writer.lock.Lock()
	defer writer.lock.Unlock()
	if writer.err != nil {
		return writer.err
	}
	writer.messages = append(writer.messages, msgs...)
	return nil
}

func (writer *fakeWriter) Close() error { return nil }

func TestLedgerPublishesTransitions(t *testing.T) {
	f := newFixture(t)
	writer := &fakeWriter{}
	ledger := NewLedger(f.db, NewKafkaPublisher(writer, zap.NewNop()), zap.NewNop())
	id, err := ledger.RecordStart(context.Background(), `AAPL`, ``)
	if err != nil {
		t.Fatal(err)
	}
	if err = ledger.RecordEnd(context.Background(), id, model.TaskStatusFailed, `boom`, 0); err != nil {
		t.Fatal(err)
	}
	if len(writer.messages) != 2 || string(writer.messages[0].Key) != id {
		t.Fatalf("expected 2 keyed messages, got %d", len(writer.messages))
	}
	writer.err = errors.New(`broker down`)
	if _, err = ledger.RecordStart(context.Background(), `AAPL`, ``); err != nil {
		t.Errorf("publishing is best effort, got %v", err)
	}
	if _, ok := NewPublisher(nil, `topic`, zap.NewNop()).(NopPublisher); !ok {
		t.Error("no brokers means a no-op publisher")
	}
}
