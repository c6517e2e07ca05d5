package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/api"
	"github.com/upupup126/quant-trading-platform/collect"
	"github.com/upupup126/quant-trading-platform/market"
	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

type fakeEngine struct {
	lock      sync.Mutex
	summaries []model.MarketSummary
	calls     int
}

func (engine *fakeEngine) Summarize(_ context.Context, segment, window string) model.MarketSummary {
	engine.lock.Lock()
	defer engine.lock.Unlock()
	summary := engine.summaries[engine.calls]
	if engine.calls < len(engine.summaries)-1 {
		engine.calls++
	}
	summary.MarketType = segment
	summary.TimeRange = window
	return summary
}

type fakeCollector struct {
	calls   int32
	symbols []string
	source  string
	block   bool
	success int
}

func (collector *fakeCollector) CollectBatch(ctx context.Context, symbols []string, source string,
	_ collect.BatchOptions) (*collect.BatchResult, error) {
	atomic.AddInt32(&collector.calls, 1)
	collector.symbols = symbols
	collector.source = source
	if collector.block {
		<-ctx.Done()
	}
	return &collect.BatchResult{TaskID: `batch`, TotalCount: len(symbols), SuccessCount: collector.success}, nil
}

type fakeSymbols map[string][]string

func (symbols fakeSymbols) ActiveSymbols(segment string) ([]string, error) {
	return symbols[segment], nil
}

type fakePicker string

func (picker fakePicker) FirstCredentialed(string) string { return string(picker) }

func fresh(now time.Time, symbols int, volume float64) model.MarketSummary {
	summary := model.EmptySummary(``, model.Window24h, now.Add(-24*time.Hour), now, nil)
	summary.TotalSymbols = symbols
	summary.TotalVolume = volume
	summary.LatestUpdateTime = now.Add(-time.Hour).Format(time.RFC3339)
	return summary
}

func TestIsSufficient(t *testing.T) {
	now := time.Now().UTC()
	if ok, reasons := IsSufficient(fresh(now, 2, 10), now, zap.NewNop()); !ok {
		t.Errorf("expected sufficient, got %v", reasons)
	}
	empty := model.EmptySummary(``, model.Window24h, now, now, nil)
	if ok, reasons := IsSufficient(empty, now, zap.NewNop()); ok || len(reasons) != 3 {
		t.Errorf("zero symbols and volume must be insufficient, got %v", reasons)
	}
	stale := fresh(now, 2, 10)
	stale.LatestUpdateTime = now.Add(-25 * time.Hour).Format(time.RFC3339)
	if ok, _ := IsSufficient(stale, now, zap.NewNop()); ok {
		t.Error("stale candles must be insufficient")
	}
	malformed := fresh(now, 2, 10)
	malformed.LatestUpdateTime = `31/12/2024`
	if ok, reasons := IsSufficient(malformed, now, zap.NewNop()); ok || len(reasons) != 1 {
		t.Errorf("malformed timestamp must fail only its own check, got %v", reasons)
	}
	week := fresh(now, 2, 0)
	week.TimeRange = model.Window7d
	if ok, _ := IsSufficient(week, now, zap.NewNop()); !ok {
		t.Error("volume only matters for 24h windows")
	}
}

func TestTriggerSkipsRefreshWhenSufficient(t *testing.T) {
	now := time.Now().UTC()
	engine := &fakeEngine{summaries: []model.MarketSummary{fresh(now, 3, 100)}}
	collector := &fakeCollector{}
	trigger := NewTrigger(engine, collector, fakeSymbols{}, fakePicker(model.Tushare), nil, time.Second, zap.NewNop())
	summary := trigger.Summary(context.Background(), ``, ``)
	if summary.TotalSymbols != 3 || atomic.LoadInt32(&collector.calls) != 0 {
		t.Errorf("unexpected refresh, summary %+v", summary)
	}
}

func TestTriggerRefreshesInsufficientData(t *testing.T) {
	now := time.Now().UTC()
	stale := model.EmptySummary(``, model.Window24h, now, now, nil)
	engine := &fakeEngine{summaries: []model.MarketSummary{stale, fresh(now, 2, 50)}}
	collector := &fakeCollector{success: 2}
	symbols := fakeSymbols{model.SegmentAShare: {`600000.SH`, `600519`, `000001.SZ`}}
	trigger := NewTrigger(engine, collector, symbols, fakePicker(model.Tushare), nil, time.Second, zap.NewNop())
	summary := trigger.Summary(context.Background(), ``, model.Window24h)
	if summary.TotalSymbols != 2 || summary.TotalVolume != 50 {
		t.Errorf("expected refreshed summary, got %+v", summary)
	}
	if len(collector.symbols) != 2 || collector.symbols[0] != `600000.SH` || collector.source != model.Tushare {
		t.Errorf("unexpected refresh call %v via %s", collector.symbols, collector.source)
	}
}

func TestTriggerKeepsOriginalWithoutImprovement(t *testing.T) {
	now := time.Now().UTC()
	original := fresh(now, 2, 0)
	engine := &fakeEngine{summaries: []model.MarketSummary{original, fresh(now, 1, 0)}}
	collector := &fakeCollector{success: 1}
	symbols := fakeSymbols{model.SegmentCrypto: {`BTCUSDT`}}
	trigger := NewTrigger(engine, collector, symbols, fakePicker(model.Binance), nil, time.Second, zap.NewNop())
	summary := trigger.Summary(context.Background(), model.SegmentCrypto, model.Window24h)
	if summary.TotalSymbols != 2 {
		t.Errorf("expected the original summary, got %+v", summary)
	}
}

func TestTriggerTimeoutReturnsOriginal(t *testing.T) {
	now := time.Now().UTC()
	original := model.EmptySummary(``, model.Window24h, now, now, nil)
	engine := &fakeEngine{summaries: []model.MarketSummary{original, fresh(now, 9, 9)}}
	collector := &fakeCollector{block: true}
	symbols := fakeSymbols{model.SegmentAShare: {`600000.SH`}}
	trigger := NewTrigger(engine, collector, symbols, fakePicker(``), nil, 50*time.Millisecond, zap.NewNop())
	started := time.Now()
	summary := trigger.Summary(context.Background(), ``, ``)
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("refresh not bounded, took %v", elapsed)
	}
	if summary.TotalSymbols != 0 {
		t.Errorf("expected original summary on timeout, got %+v", summary)
	}
}

func TestTriggerNoQualifyingSymbols(t *testing.T) {
	now := time.Now().UTC()
	engine := &fakeEngine{summaries: []model.MarketSummary{model.EmptySummary(``, model.Window24h, now, now, nil)}}
	collector := &fakeCollector{}
	symbols := fakeSymbols{model.SegmentAShare: {`600519`}}
	trigger := NewTrigger(engine, collector, symbols, fakePicker(``), nil, time.Second, zap.NewNop())
	trigger.Summary(context.Background(), ``, ``)
	if atomic.LoadInt32(&collector.calls) != 0 {
		t.Error("symbols without an exchange suffix must not be refreshed")
	}
}

type candleSource struct {
	name  string
	times []time.Time
}

func (source *candleSource) Name() string             { return source.name }
func (source *candleSource) Segments() []string       { return nil }
func (source *candleSource) RequiresCredential() bool { return false }
func (source *candleSource) HasCredential() bool      { return false }
func (source *candleSource) Fetch(context.Context, string, model.TimeRange, string) ([]api.RawCandle, error) {
	candles := make([]api.RawCandle, 0, len(source.times))
	for _, ts := range source.times {
		candles = append(candles, api.RawCandle{Time: ts, Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 100})
	}
	return candles, nil
}

func TestIngestThenSummarize(t *testing.T) {
	db, closeDB, err := util.OpenDB(context.Background(), `sqlite3`, `:memory:`, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB()
	if err = model.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	source := &candleSource{name: model.YahooFinance, times: []time.Time{now.Add(-5 * time.Hour), now.Add(-90 * time.Minute),
		now.Add(-3 * time.Hour)}}
	selector := api.NewSelector([]api.Source{source}, nil, zap.NewNop())
	pipeline := collect.NewPipeline(db, selector, model.NewConfig(), zap.NewNop())
	collector := collect.NewCollector(pipeline, collect.NewLedger(db, nil, zap.NewNop()), 2, zap.NewNop())
	result := collector.CollectOne(context.Background(), `AAPL`, ``, collect.BatchOptions{Period: `1d`})
	if !result.Success || result.DataCount != 3 {
		t.Fatalf("unexpected ingestion result %+v", result)
	}
	store := market.NewStore(db, zap.NewNop())
	trigger := NewTrigger(market.NewEngine(db, zap.NewNop()), collector, store, selector, nil, time.Second,
		zap.NewNop())
	summary := trigger.Summary(context.Background(), ``, model.Window24h)
	if summary.Error != nil {
		t.Fatalf("unexpected error %s", *summary.Error)
	}
	if summary.TotalSymbols < 1 {
		t.Errorf("expected at least one symbol, got %d", summary.TotalSymbols)
	}
	if summary.LatestUpdateTime != now.Add(-90*time.Minute).Format(time.RFC3339) {
		t.Errorf("latest update %s, want %s", summary.LatestUpdateTime, now.Add(-90*time.Minute).Format(time.RFC3339))
	}
}

func TestUpdaterPolls(t *testing.T) {
	collector := &fakeCollector{success: 1}
	updater := NewUpdater(collector, nil, []string{`BTCUSDT`}, 10*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	updater.Maintain(ctx)
	if calls := atomic.LoadInt32(&collector.calls); calls < 2 {
		t.Errorf("expected repeated polling, got %d passes", calls)
	}
	disabled := NewUpdater(collector, nil, []string{`BTCUSDT`}, 0, zap.NewNop())
	if disabled.Enabled() {
		t.Error("zero interval disables polling")
	}
	disabled.Maintain(context.Background())
}

type fakeSnapshotter struct{}

func (fakeSnapshotter) Ticker(_ context.Context, symbol string) (*model.Ticker, error) {
	return &model.Ticker{Symbol: symbol, Timestamp: time.Now().UTC(), LastPrice: 1, Volume: 10}, nil
}

func (fakeSnapshotter) Depth(_ context.Context, symbol string, limit int) (*api.DepthSnapshot, error) {
	return &api.DepthSnapshot{Symbol: symbol, Timestamp: time.Now().UTC(), Bids: [][2]float64{{1, float64(limit)}}}, nil
}

type fakeSnapshots struct{}

func (fakeSnapshots) Snapshotter(segment string) (api.Snapshotter, error) {
	if segment != model.SegmentCrypto {
		return nil, model.ErrUnsupported
	}
	return fakeSnapshotter{}, nil
}

type recordingWriter struct {
	tickers []string
	books   map[string]int
}

func (writer *recordingWriter) SaveTicker(ticker *model.Ticker) error {
	writer.tickers = append(writer.tickers, ticker.Symbol)
	return nil
}

func (writer *recordingWriter) SaveOrderBook(symbol string, _ time.Time, bids, _ [][2]float64) error {
	writer.books[symbol] = int(bids[0][1])
	return nil
}

func TestUpdaterSnapshotsCrypto(t *testing.T) {
	writer := &recordingWriter{books: map[string]int{}}
	updater := NewUpdater(&fakeCollector{}, nil, []string{`BTCUSDT`, `AAPL`}, time.Minute, zap.NewNop()).
		WithSnapshots(fakeSnapshots{}, writer, 7)
	updater.pass(context.Background())
	if len(writer.tickers) != 1 || writer.tickers[0] != `BTCUSDT` || writer.books[`BTCUSDT`] != 7 {
		t.Errorf("unexpected snapshots %v %v", writer.tickers, writer.books)
	}
}

func TestDefaultSummaryRefreshesListedEquities(t *testing.T) {
	db, closeDB, err := util.OpenDB(context.Background(), `sqlite3`, `:memory:`, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDB()
	if err = model.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	source := &candleSource{name: model.Eastmoney, times: []time.Time{now.Add(-96 * time.Hour),
		now.Add(-72 * time.Hour)}}
	selector := api.NewSelector([]api.Source{source}, nil, zap.NewNop())
	pipeline := collect.NewPipeline(db, selector, model.NewConfig(), zap.NewNop())
	ingested, err := pipeline.Ingest(context.Background(), collect.IngestRequest{Symbol: `600000.SH`, Period: `1d`})
	if err != nil || ingested.Written != 2 {
		t.Fatalf("ingest 600000.SH: %v %+v", err, ingested)
	}

	collector := &fakeCollector{}
	store := market.NewStore(db, zap.NewNop())
	trigger := NewTrigger(market.NewEngine(db, zap.NewNop()), collector, store, selector, nil, time.Second,
		zap.NewNop())
	summary := trigger.Summary(context.Background(), ``, model.Window24h)
	if summary.TotalSymbols != 1 {
		t.Fatalf("expected the ingested symbol to be counted, got %+v", summary)
	}
	if atomic.LoadInt32(&collector.calls) != 1 {
		t.Fatal("a stale summary without a segment must refresh the listed equities")
	}
	if len(collector.symbols) != 1 || collector.symbols[0] != `600000.SH` || collector.source != model.Eastmoney {
		t.Errorf("unexpected refresh of %v via %s", collector.symbols, collector.source)
	}
}
