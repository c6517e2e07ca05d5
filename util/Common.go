package util

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func NewJSON(data []byte) (j *simplejson.Json, err error) {
	j, err = simplejson.NewJson(data)
	if err != nil {
		return nil, errors.Wrap(err, `parse json`)
	}
	return j, nil
}

// ToFloat converts whatever scalar a provider sent; nil, blanks and junk become zero.
func ToFloat(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		return parseDecimal(v.String())
	case string:
		return parseDecimal(v)
	case []byte:
		return parseDecimal(string(v))
	case decimal.Decimal:
		f, _ := v.Float64()
		return f
	}
	return parseDecimal(fmt.Sprint(value))
}

func parseDecimal(text string) float64 {
	text = strings.TrimSpace(text)
	if text == `` || text == `-` {
		return 0
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

var timeLayouts = []string{
	time.RFC3339Nano,
	`2006-01-02 15:04:05.999999999-07:00`,
	`2006-01-02 15:04:05.999999999Z07:00`,
	`2006-01-02 15:04:05.999999999`,
	`2006-01-02T15:04:05.999999999`,
	`2006-01-02 15:04:05`,
	`2006-01-02 15:04`,
	`2006-01-02`,
	`20060102`,
}

// ParseTime reads timestamps as databases and providers return them; zone-less text is UTC.
func ParseTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v != nil {
			return v.UTC(), nil
		}
	case []byte:
		return ParseTime(string(v))
	case string:
		text := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errors.Errorf(`malformed timestamp %q`, v)
	}
	return time.Time{}, errors.Errorf(`malformed timestamp %v`, value)
}

// GetPrecision counts decimal places, capped at 8.
func GetPrecision(num float64) int {
	for i := 0; i < 8; i++ {
		temp := num * math.Pow(10, float64(i))
		if math.Abs(temp-math.Round(temp)) < 1e-6 {
			return i
		}
	}
	return 8
}
