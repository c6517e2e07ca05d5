package api

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

var eastmoneyKLineTypes = map[string]string{`1m`: `1`, `5m`: `5`, `15m`: `15`, `30m`: `30`, `1h`: `60`,
	`1d`: `101`, `1w`: `102`, `1M`: `103`}

// Eastmoney serves A-share history without a key.
type Eastmoney struct {
	base
}

func NewEastmoney(config *model.SourceConfig, logger *zap.Logger) *Eastmoney {
	return &Eastmoney{base: newBase(model.Eastmoney, []string{model.SegmentAShare}, config, logger)}
}

func (eastmoney *Eastmoney) RequiresCredential() bool {
	return false
}

// 1 is Shanghai, 0 is Shenzhen
func eastmoneySecID(symbol string) string {
	code, exchange := model.AShareCode(symbol)
	if exchange == `SH` {
		return `1.` + code
	}
	return `0.` + code
}

func (eastmoney *Eastmoney) Fetch(ctx context.Context, symbol string, timeRange model.TimeRange, period string) (
	[]RawCandle, error) {
	klt, ok := eastmoneyKLineTypes[period]
	if !ok {
		return nil, eastmoney.unsupported(period)
	}
	param := map[string]string{`secid`: eastmoneySecID(symbol), `klt`: klt, `fqt`: `1`,
		`beg`: timeRange.Start.Format(`20060102`), `end`: timeRange.End.Format(`20060102`),
		`fields1`: `f1,f2,f3,f4,f5,f6`, `fields2`: `f51,f52,f53,f54,f55,f56,f57`}
	response, err := eastmoney.request(ctx, `GET`,
		eastmoney.config.BaseURL+`/api/qt/stock/kline/get?`+util.ComposeParams(param), ``, nil)
	if err != nil {
		return nil, err
	}
	klineJson, err := util.NewJSON(response)
	if err != nil {
		return nil, eastmoney.empty(symbol)
	}
	lines := klineJson.GetPath(`data`, `klines`).MustStringArray()
	candles := make([]RawCandle, 0, len(lines))
	for _, line := range lines {
		// date,open,close,high,low,volume,amount
		fields := strings.Split(line, `,`)
		if len(fields) < 6 {
			continue
		}
		ts, err := util.ParseTime(fields[0])
		if err != nil {
			continue
		}
		candle := RawCandle{Time: ts, Open: fields[1], Close: fields[2], High: fields[3], Low: fields[4],
			Volume: fields[5]}
		if len(fields) > 6 {
			candle.Turnover = fields[6]
		}
		candles = append(candles, candle)
	}
	return eastmoney.finish(symbol, candles, timeRange)
}
