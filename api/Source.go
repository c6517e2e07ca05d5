package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

// RawCandle is a provider reply row before normalization; numeric fields hold whatever scalar was sent.
type RawCandle struct {
	Time     time.Time
	Open     interface{}
	High     interface{}
	Low      interface{}
	Close    interface{}
	Volume   interface{}
	Turnover interface{}
}

type Source interface {
	Name() string
	Segments() []string
	RequiresCredential() bool
	HasCredential() bool
	Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) ([]RawCandle, error)
}

// validCredential rejects blanks and the public demo key.
func validCredential(key string) bool {
	key = strings.TrimSpace(key)
	return key != `` && !strings.EqualFold(key, `demo`)
}

// base carries what every adapter shares: config, rpm limiter and the http client.
type base struct {
	name     string
	segments []string
	config   *model.SourceConfig
	limiter  *rate.Limiter
	client   *http.Client
	logger   *zap.Logger
}

func newBase(name string, segments []string, config *model.SourceConfig, logger *zap.Logger) base {
	if config == nil {
		config = &model.SourceConfig{}
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit / 60)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return base{name: name, segments: segments, config: config, limiter: rate.NewLimiter(limit, 1),
		client: &http.Client{Timeout: timeout}, logger: logger.With(zap.String(`source`, name))}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Segments() []string {
	return b.segments
}

func (b *base) HasCredential() bool {
	return validCredential(b.config.APIKey)
}

func (b *base) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(model.ErrUnavailable, `%s rate limit: %v`, b.name, err)
	}
	return nil
}

// request waits for the limiter, performs the call and maps the status onto the error taxonomy.
func (b *base) request(ctx context.Context, method, reqUrl, body string, headers map[string]string) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	data, status, err := util.HttpRequest(ctx, b.client, method, reqUrl, body, headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn(`request failed`, zap.Error(err))
		return nil, errors.Wrapf(model.ErrUnavailable, `%s: %v`, b.name, err)
	}
	if err = b.classifyStatus(status, data); err != nil {
		return data, err
	}
	return data, nil
}

func (b *base) classifyStatus(status int, data []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrapf(model.ErrUnauthenticated, `%s http %d`, b.name, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.Wrapf(model.ErrUnavailable, `%s http %d`, b.name, status)
	}
	b.logger.Info(`provider rejected query`, zap.Int(`status`, status), zap.ByteString(`body`, truncate(data, 256)))
	return errors.Wrapf(model.ErrEmptyDataset, `%s http %d`, b.name, status)
}

func (b *base) unsupported(period string) error {
	return errors.Wrapf(model.ErrUnsupported, `%s period %s`, b.name, period)
}

func (b *base) empty(symbol string) error {
	return errors.Wrapf(model.ErrEmptyDataset, `%s %s`, b.name, symbol)
}

func truncate(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}

// NewSources builds every provider adapter known to the platform from config.
func NewSources(config *model.Config, logger *zap.Logger) []Source {
	return []Source{
		NewBinance(config.Source(model.Binance), logger),
		NewAlphaVantage(config.Source(model.AlphaVantage), logger),
		NewYahoo(config.Source(model.YahooFinance), logger),
		NewTushare(config.Source(model.Tushare), logger),
		NewEastmoney(config.Source(model.Eastmoney), logger),
		NewAlpaca(config.Source(model.Alpaca), logger),
	}
}

// finish keeps candles inside timeRange, sorted ascending; nothing left is an empty dataset.
func (b *base) finish(symbol string, candles []RawCandle, timeRange model.TimeRange) ([]RawCandle, error) {
	result := make([]RawCandle, 0, len(candles))
	for _, candle := range candles {
		if timeRange.Contains(candle.Time) {
			result = append(result, candle)
		}
	}
	if len(result) == 0 {
		return nil, b.empty(symbol)
	}
	sortCandles(result)
	return result, nil
}

func sortCandles(candles []RawCandle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
}

func (b *base) throttled(message string) error {
	b.logger.Warn(`provider throttled`, zap.String(`message`, message))
	return errors.Wrapf(model.ErrUnavailable, `%s: %s`, b.name, message)
}
