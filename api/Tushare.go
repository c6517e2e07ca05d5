package api

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

var tushareDaily = map[string]string{`1d`: `daily`, `1w`: `weekly`, `1M`: `monthly`}
var tushareMinutes = map[string]string{`1m`: `1min`, `5m`: `5min`, `15m`: `15min`, `30m`: `30min`,
	`1h`: `60min`}

type Tushare struct {
	base
}

func NewTushare(config *model.SourceConfig, logger *zap.Logger) *Tushare {
	return &Tushare{base: newBase(model.Tushare, []string{model.SegmentAShare, model.SegmentStock}, config,
		logger)}
}

func (tushare *Tushare) RequiresCredential() bool {
	return true
}

// tushareCode turns 600000 or 600000.sh into the ts_code form 600000.SH.
func tushareCode(symbol string) string {
	code, exchange := model.AShareCode(symbol)
	return code + `.` + exchange
}

func (tushare *Tushare) Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) (
	[]RawCandle, error) {
	params := map[string]interface{}{`ts_code`: tushareCode(symbol)}
	timeField := `trade_date`
	apiName, daily := tushareDaily[period]
	if daily {
		params[`start_date`] = timeRange.Start.Format(`20060102`)
		params[`end_date`] = timeRange.End.Format(`20060102`)
	} else {
		freq, ok := tushareMinutes[period]
		if !ok {
			return nil, tushare.unsupported(period)
		}
		apiName = `stk_mins`
		timeField = `trade_time`
		params[`freq`] = freq
		params[`start_date`] = timeRange.Start.Format(`2006-01-02 15:04:05`)
		params[`end_date`] = timeRange.End.Format(`2006-01-02 15:04:05`)
	}
	body, err := json.Marshal(map[string]interface{}{`api_name`: apiName, `token`: tushare.config.APIKey,
		`params`: params, `fields`: `ts_code,` + timeField + `,open,high,low,close,vol,amount`})
	if err != nil {
		return nil, errors.Wrap(err, `encode tushare request`)
	}
	response, err := tushare.request(ctx, `POST`, tushare.config.BaseURL, string(body),
		map[string]string{`Content-Type`: `application/json`})
	if err != nil {
		return nil, err
	}
	replyJson, err := util.NewJSON(response)
	if err != nil {
		return nil, tushare.empty(symbol)
	}
	code, _ := replyJson.Get(`code`).Int()
	message, _ := replyJson.Get(`msg`).String()
	switch code {
	case 0:
	case 40101, 40203:
		return nil, errors.Wrapf(model.ErrUnauthenticated, `tushare %d %s`, code, message)
	default:
		return nil, errors.Wrapf(model.ErrUnavailable, `tushare %d %s`, code, message)
	}
	fields := replyJson.GetPath(`data`, `fields`).MustArray()
	index := make(map[string]int, len(fields))
	for i, field := range fields {
		if name, ok := field.(string); ok {
			index[name] = i
		}
	}
	column := func(row []interface{}, name string) interface{} {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}
	items := replyJson.GetPath(`data`, `items`).MustArray()
	candles := make([]RawCandle, 0, len(items))
	for _, value := range items {
		row, ok := value.([]interface{})
		if !ok {
			continue
		}
		ts, err := util.ParseTime(column(row, timeField))
		if err != nil {
			continue
		}
		candles = append(candles, RawCandle{Time: ts, Open: column(row, `open`), High: column(row, `high`),
			Low: column(row, `low`), Close: column(row, `close`), Volume: column(row, `vol`),
			Turnover: column(row, `amount`)})
	}
	return tushare.finish(symbol, candles, timeRange)
}
