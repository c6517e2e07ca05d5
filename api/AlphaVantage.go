package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/bitly/go-simplejson"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

var alphaVantageIntraday = map[string]string{`1m`: `1min`, `5m`: `5min`, `15m`: `15min`, `30m`: `30min`,
	`1h`: `60min`}

type AlphaVantage struct {
	base
}

func NewAlphaVantage(config *model.SourceConfig, logger *zap.Logger) *AlphaVantage {
	return &AlphaVantage{base: newBase(model.AlphaVantage,
		[]string{model.SegmentUSStock, model.SegmentStock, model.SegmentForex, model.SegmentCrypto}, config, logger)}
}

func (alpha *AlphaVantage) RequiresCredential() bool {
	return true
}

// query builds the function parameters for the symbol's segment; ok is false for unsupported periods.
func (alpha *AlphaVantage) query(symbol, period string) (params url.Values, ok bool) {
	params = url.Values{}
	segment := model.DetectSegment(symbol)
	switch segment {
	case model.SegmentCrypto:
		if period != `1d` {
			return nil, false
		}
		base, _ := model.SplitAssets(symbol, segment)
		params.Set(`function`, `DIGITAL_CURRENCY_DAILY`)
		params.Set(`symbol`, base)
		params.Set(`market`, `USD`)
	case model.SegmentForex:
		function := map[string]string{`1d`: `FX_DAILY`, `1w`: `FX_WEEKLY`, `1M`: `FX_MONTHLY`}[period]
		if function == `` {
			return nil, false
		}
		from, to := model.SplitAssets(symbol, segment)
		params.Set(`function`, function)
		params.Set(`from_symbol`, from)
		params.Set(`to_symbol`, to)
		params.Set(`outputsize`, `full`)
	default:
		params.Set(`symbol`, strings.ToUpper(symbol))
		switch period {
		case `1d`:
			params.Set(`function`, `TIME_SERIES_DAILY`)
			params.Set(`outputsize`, `full`)
		case `1w`:
			params.Set(`function`, `TIME_SERIES_WEEKLY`)
		case `1M`:
			params.Set(`function`, `TIME_SERIES_MONTHLY`)
		default:
			interval, found := alphaVantageIntraday[period]
			if !found {
				return nil, false
			}
			params.Set(`function`, `TIME_SERIES_INTRADAY`)
			params.Set(`interval`, interval)
			params.Set(`outputsize`, `full`)
		}
	}
	return params, true
}

func (alpha *AlphaVantage) Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) (
	[]RawCandle, error) {
	params, ok := alpha.query(symbol, period)
	if !ok {
		return nil, alpha.unsupported(period)
	}
	params.Set(`apikey`, alpha.config.APIKey)
	response, err := alpha.request(ctx, `GET`, alpha.config.BaseURL+`/query?`+params.Encode(), ``, nil)
	if err != nil {
		return nil, err
	}
	seriesJson, err := util.NewJSON(response)
	if err != nil {
		return nil, alpha.empty(symbol)
	}
	if message, _ := seriesJson.Get(`Error Message`).String(); message != `` {
		alpha.logger.Info(`no series`, zap.String(`symbol`, symbol), zap.String(`message`, message))
		return nil, alpha.empty(symbol)
	}
	for _, key := range []string{`Note`, `Information`} {
		if message, _ := seriesJson.Get(key).String(); message != `` {
			return nil, alpha.throttled(message)
		}
	}
	series := alphaVantageSeries(seriesJson)
	candles := make([]RawCandle, 0, len(series))
	for date, value := range series {
		item, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		ts, err := util.ParseTime(date)
		if err != nil {
			continue
		}
		candles = append(candles, RawCandle{Time: ts, Open: alphaVantageField(item, `open`),
			High: alphaVantageField(item, `high`), Low: alphaVantageField(item, `low`),
			Close: alphaVantageField(item, `close`), Volume: alphaVantageField(item, `volume`)})
	}
	return alpha.finish(symbol, candles, timeRange)
}

// alphaVantageSeries returns the map under whichever "Time Series ..." key the function produced.
func alphaVantageSeries(seriesJson *simplejson.Json) map[string]interface{} {
	for key := range seriesJson.MustMap() {
		if strings.Contains(key, `Time Series`) {
			return seriesJson.Get(key).MustMap()
		}
	}
	return nil
}

// alphaVantageField matches "1. open" as well as the older "1a. open (USD)" naming.
func alphaVantageField(item map[string]interface{}, name string) interface{} {
	for key, value := range item {
		parts := strings.SplitN(key, `. `, 2)
		if len(parts) == 2 && strings.HasPrefix(parts[1], name) {
			return value
		}
	}
	return nil
}
