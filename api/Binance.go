package api

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

const binanceKLineLimit = 1000
const binanceMaxPages = 50

type Binance struct {
	base
}

func NewBinance(config *model.SourceConfig, logger *zap.Logger) *Binance {
	return &Binance{base: newBase(model.Binance, []string{model.SegmentCrypto}, config, logger)}
}

// public market data; the key only raises the weight ceiling
func (binance *Binance) RequiresCredential() bool {
	return false
}

// Fetch pages through /api/v3/klines until the range is covered.
func (binance *Binance) Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) (
	[]RawCandle, error) {
	if !model.ValidPeriod(period) {
		return nil, binance.unsupported(period)
	}
	headers := map[string]string{}
	if binance.HasCredential() {
		headers[`X-MBX-APIKEY`] = binance.config.APIKey
	}
	symbol = binanceSymbol(symbol)
	start := timeRange.Start.UnixMilli()
	end := timeRange.End.UnixMilli()
	candles := make([]RawCandle, 0)
	for page := 0; page < binanceMaxPages && start <= end; page++ {
		param := map[string]string{`symbol`: symbol, `interval`: period, `limit`: strconv.Itoa(binanceKLineLimit),
			`startTime`: strconv.FormatInt(start, 10), `endTime`: strconv.FormatInt(end, 10)}
		response, err := binance.request(ctx, `GET`,
			binance.config.BaseURL+`/api/v3/klines?`+util.ComposeParams(param), ``, headers)
		if err != nil {
			return nil, err
		}
		klineJson, err := util.NewJSON(response)
		if err != nil {
			return nil, binance.empty(symbol)
		}
		items := klineJson.MustArray()
		var last int64
		for _, value := range items {
			item, ok := value.([]interface{})
			if !ok || len(item) < 6 {
				continue
			}
			number, ok := item[0].(json.Number)
			if !ok {
				continue
			}
			openTime, err := number.Int64()
			if err != nil {
				continue
			}
			candle := RawCandle{Time: time.UnixMilli(openTime).UTC(), Open: item[1], High: item[2], Low: item[3],
				Close: item[4], Volume: item[5]}
			if len(item) > 7 {
				candle.Turnover = item[7]
			}
			candles = append(candles, candle)
			last = openTime
		}
		if len(items) < binanceKLineLimit || last == 0 {
			break
		}
		start = last + 1
	}
	binance.logger.Debug(`klines fetched`, zap.String(`symbol`, symbol), zap.Int(`count`, len(candles)))
	return binance.finish(symbol, candles, timeRange)
}
