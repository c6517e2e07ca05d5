package api

import (
	"context"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

var alpacaTimeFrames = map[string]marketdata.TimeFrame{
	`1m`:  marketdata.OneMin,
	`5m`:  marketdata.NewTimeFrame(5, marketdata.Min),
	`15m`: marketdata.NewTimeFrame(15, marketdata.Min),
	`30m`: marketdata.NewTimeFrame(30, marketdata.Min),
	`1h`:  marketdata.OneHour,
	`4h`:  marketdata.NewTimeFrame(4, marketdata.Hour),
	`1d`:  marketdata.OneDay,
	`1w`:  marketdata.NewTimeFrame(1, marketdata.Week),
	`1M`:  marketdata.NewTimeFrame(1, marketdata.Month),
}

// Alpaca reads US equity bars through the official market data client.
type Alpaca struct {
	base
	client *marketdata.Client
}

func NewAlpaca(config *model.SourceConfig, logger *zap.Logger) *Alpaca {
	alpaca := &Alpaca{base: newBase(model.Alpaca, []string{model.SegmentUSStock}, config, logger)}
	opts := marketdata.ClientOpts{APIKey: alpaca.config.APIKey, APISecret: alpaca.config.APISecret}
	if alpaca.config.BaseURL != `` {
		opts.BaseURL = alpaca.config.BaseURL
	}
	alpaca.client = marketdata.NewClient(opts)
	return alpaca
}

func (alpaca *Alpaca) RequiresCredential() bool {
	return true
}

func (alpaca *Alpaca) HasCredential() bool {
	return validCredential(alpaca.config.APIKey) && validCredential(alpaca.config.APISecret)
}

type alpacaReply struct {
	bars []marketdata.Bar
	err  error
}

func (alpaca *Alpaca) Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) (
	[]RawCandle, error) {
	timeFrame, ok := alpacaTimeFrames[period]
	if !ok {
		return nil, alpaca.unsupported(period)
	}
	if !alpaca.HasCredential() {
		return nil, errors.Wrap(model.ErrUnauthenticated, `alpaca key or secret missing`)
	}
	if err := alpaca.wait(ctx); err != nil {
		return nil, err
	}
	// the client takes no context, so the call races ctx instead
	replies := make(chan alpacaReply, 1)
	go func() {
		bars, err := alpaca.client.GetBars(strings.ToUpper(symbol), marketdata.GetBarsRequest{
			TimeFrame: timeFrame,
			Start:     timeRange.Start,
			End:       timeRange.End,
		})
		replies <- alpacaReply{bars: bars, err: err}
	}()
	var reply alpacaReply
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply = <-replies:
	}
	if reply.err != nil {
		message := reply.err.Error()
		if strings.Contains(message, `401`) || strings.Contains(message, `403`) ||
			strings.Contains(strings.ToLower(message), `forbidden`) {
			return nil, errors.Wrapf(model.ErrUnauthenticated, `alpaca: %s`, message)
		}
		return nil, errors.Wrapf(model.ErrUnavailable, `alpaca: %s`, message)
	}
	candles := make([]RawCandle, 0, len(reply.bars))
	for _, bar := range reply.bars {
		candle := RawCandle{Time: bar.Timestamp.UTC(), Open: bar.Open, High: bar.High, Low: bar.Low,
			Close: bar.Close, Volume: bar.Volume}
		if bar.VWAP > 0 {
			candle.Turnover = bar.VWAP * float64(bar.Volume)
		}
		candles = append(candles, candle)
	}
	return alpaca.finish(symbol, candles, timeRange)
}
