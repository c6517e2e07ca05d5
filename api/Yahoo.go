package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

var yahooIntervals = map[string]string{`1m`: `1m`, `5m`: `5m`, `15m`: `15m`, `30m`: `30m`, `1h`: `60m`,
	`1d`: `1d`, `1w`: `1wk`, `1M`: `1mo`}

type Yahoo struct {
	base
}

func NewYahoo(config *model.SourceConfig, logger *zap.Logger) *Yahoo {
	return &Yahoo{base: newBase(model.YahooFinance,
		[]string{model.SegmentUSStock, model.SegmentStock, model.SegmentForex}, config, logger)}
}

func (yahoo *Yahoo) RequiresCredential() bool {
	return false
}

// yahooSymbol maps platform symbols onto Yahoo tickers: EURUSD=X, 600000.SS, 000001.SZ.
func yahooSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch model.DetectSegment(symbol) {
	case model.SegmentForex:
		return symbol + `=X`
	case model.SegmentAShare:
		code, exchange := model.AShareCode(symbol)
		if exchange == `SH` {
			return code + `.SS`
		}
		return code + `.SZ`
	}
	return symbol
}

func (yahoo *Yahoo) Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) (
	[]RawCandle, error) {
	interval, ok := yahooIntervals[period]
	if !ok {
		return nil, yahoo.unsupported(period)
	}
	param := map[string]string{`period1`: strconv.FormatInt(timeRange.Start.Unix(), 10),
		`period2`: strconv.FormatInt(timeRange.End.Unix(), 10), `interval`: interval, `events`: `history`}
	reqUrl := yahoo.config.BaseURL + `/v8/finance/chart/` + url.PathEscape(yahooSymbol(symbol)) + `?` +
		util.ComposeParams(param)
	response, err := yahoo.request(ctx, `GET`, reqUrl, ``, map[string]string{`User-Agent`: `Mozilla/5.0`})
	chartJson, parseErr := util.NewJSON(response)
	if parseErr == nil {
		if code, _ := chartJson.GetPath(`chart`, `error`, `code`).String(); code != `` {
			if strings.EqualFold(code, `Not Found`) {
				return nil, yahoo.empty(symbol)
			}
			return nil, yahoo.throttled(code)
		}
	}
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, yahoo.empty(symbol)
	}
	result := chartJson.Get(`chart`).Get(`result`).GetIndex(0)
	timestamps := result.Get(`timestamp`).MustArray()
	quote := result.Get(`indicators`).Get(`quote`).GetIndex(0)
	opens := quote.Get(`open`).MustArray()
	highs := quote.Get(`high`).MustArray()
	lows := quote.Get(`low`).MustArray()
	closes := quote.Get(`close`).MustArray()
	volumes := quote.Get(`volume`).MustArray()
	candles := make([]RawCandle, 0, len(timestamps))
	for i, value := range timestamps {
		number, ok := value.(json.Number)
		if !ok {
			continue
		}
		seconds, err := number.Int64()
		if err != nil {
			continue
		}
		// null close marks a gap, not a zero price
		if at(closes, i) == nil {
			continue
		}
		candles = append(candles, RawCandle{Time: time.Unix(seconds, 0).UTC(), Open: at(opens, i),
			High: at(highs, i), Low: at(lows, i), Close: at(closes, i), Volume: at(volumes, i)})
	}
	return yahoo.finish(symbol, candles, timeRange)
}

func at(values []interface{}, i int) interface{} {
	if i < len(values) {
		return values[i]
	}
	return nil
}
