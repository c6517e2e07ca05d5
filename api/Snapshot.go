package api

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

// Snapshotter serves point-in-time market state next to candles: the 24h ticker and the order book.
type Snapshotter interface {
	Ticker(ctx context.Context, symbol string) (*model.Ticker, error)
	Depth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error)
}

type DepthSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Bids      [][2]float64
	Asks      [][2]float64
}

func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.Replace(symbol, `_`, ``, -1))
}

// Ticker reads /api/v3/ticker/24hr for one symbol.
func (binance *Binance) Ticker(ctx context.Context, symbol string) (*model.Ticker, error) {
	symbol = binanceSymbol(symbol)
	response, err := binance.request(ctx, `GET`, binance.config.BaseURL+`/api/v3/ticker/24hr?`+
		util.ComposeParams(map[string]string{`symbol`: symbol}), ``, nil)
	if err != nil {
		return nil, err
	}
	tickerJson, err := util.NewJSON(response)
	if err != nil {
		return nil, binance.empty(symbol)
	}
	if _, ok := tickerJson.CheckGet(`lastPrice`); !ok {
		return nil, binance.empty(symbol)
	}
	closeTime := tickerJson.Get(`closeTime`).MustInt64()
	ticker := &model.Ticker{Symbol: symbol, Timestamp: time.Now().UTC(),
		LastPrice:          util.ToFloat(tickerJson.Get(`lastPrice`).Interface()),
		PriceChange:        util.ToFloat(tickerJson.Get(`priceChange`).Interface()),
		PriceChangePercent: util.ToFloat(tickerJson.Get(`priceChangePercent`).Interface()),
		High:               util.ToFloat(tickerJson.Get(`highPrice`).Interface()),
		Low:                util.ToFloat(tickerJson.Get(`lowPrice`).Interface()),
		Volume:             util.ToFloat(tickerJson.Get(`volume`).Interface()),
		Turnover:           util.ToFloat(tickerJson.Get(`quoteVolume`).Interface())}
	if closeTime > 0 {
		ticker.Timestamp = time.UnixMilli(closeTime).UTC()
	}
	return ticker, nil
}

// Depth reads /api/v3/depth; levels arrive as [price, amount] string pairs.
func (binance *Binance) Depth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	symbol = binanceSymbol(symbol)
	if limit <= 0 {
		limit = 50
	}
	response, err := binance.request(ctx, `GET`, binance.config.BaseURL+`/api/v3/depth?`+
		util.ComposeParams(map[string]string{`symbol`: symbol, `limit`: strconv.Itoa(limit)}), ``, nil)
	if err != nil {
		return nil, err
	}
	depthJson, err := util.NewJSON(response)
	if err != nil {
		return nil, binance.empty(symbol)
	}
	snapshot := &DepthSnapshot{Symbol: symbol, Timestamp: time.Now().UTC()}
	for _, side := range []struct {
		key    string
		levels *[][2]float64
	}{{`bids`, &snapshot.Bids}, {`asks`, &snapshot.Asks}} {
		items := depthJson.Get(side.key)
		count := len(items.MustArray())
		*side.levels = make([][2]float64, 0, count)
		for i := 0; i < count; i++ {
			item := items.GetIndex(i)
			*side.levels = append(*side.levels, [2]float64{util.ToFloat(item.GetIndex(0).Interface()),
				util.ToFloat(item.GetIndex(1).Interface())})
		}
	}
	if len(snapshot.Bids) == 0 && len(snapshot.Asks) == 0 {
		return nil, binance.empty(symbol)
	}
	binance.logger.Debug(`depth fetched`, zap.String(`symbol`, symbol), zap.Int(`bids`, len(snapshot.Bids)),
		zap.Int(`asks`, len(snapshot.Asks)))
	return snapshot, nil
}

// Snapshotter returns the registered source able to snapshot segment, if any.
func (selector *Selector) Snapshotter(segment string) (Snapshotter, error) {
	if segment != model.SegmentCrypto {
		return nil, errors.Wrapf(model.ErrUnsupported, `snapshots for %s`, segment)
	}
	source, err := selector.Source(model.Binance)
	if err != nil {
		return nil, err
	}
	snapshotter, ok := source.(Snapshotter)
	if !ok {
		return nil, errors.Wrapf(model.ErrUnsupported, `%s snapshots`, source.Name())
	}
	return snapshotter, nil
}
