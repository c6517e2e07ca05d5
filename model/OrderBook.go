package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderBookSnapshot keeps both sides as JSON text of [price, amount] pairs.
type OrderBookSnapshot struct {
	ID        uint      `gorm:"primary_key"`
	Symbol    string    `gorm:"index:idx_orderbook_symbol_ts;not null"`
	Timestamp time.Time `gorm:"index:idx_orderbook_symbol_ts;not null"`
	Bids      string    `gorm:"type:text"`
	Asks      string    `gorm:"type:text"`
}

func (OrderBookSnapshot) TableName() string {
	return `order_book`
}

type Ticks []Tick

type Tick struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Total  float64 `json:"total"`
}

func (ticks Ticks) Len() int {
	return len(ticks)
}

func (ticks Ticks) Swap(i, j int) {
	ticks[i], ticks[j] = ticks[j], ticks[i]
}

func (ticks Ticks) Less(i, j int) bool {
	return ticks[i].Price < ticks[j].Price
}

type OrderBook struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Bids      Ticks     `json:"bids"`
	Asks      Ticks     `json:"asks"`
}

func EncodeLevels(levels [][2]float64) (string, error) {
	if levels == nil {
		levels = [][2]float64{}
	}
	data, err := json.Marshal(levels)
	if err != nil {
		return ``, errors.Wrap(err, `encode order book levels`)
	}
	return string(data), nil
}

func decodeLevels(text string) (Ticks, error) {
	levels := make([][2]float64, 0)
	if text != `` {
		if err := json.Unmarshal([]byte(text), &levels); err != nil {
			return nil, errors.Wrap(err, `decode order book levels`)
		}
	}
	ticks := make(Ticks, 0, len(levels))
	for _, level := range levels {
		if level[0] <= 0 || level[1] <= 0 {
			continue
		}
		total, _ := decimal.NewFromFloat(level[0]).Mul(decimal.NewFromFloat(level[1])).Float64()
		ticks = append(ticks, Tick{Price: level[0], Amount: level[1], Total: total})
	}
	return ticks, nil
}

// uniqueDepth drops repeated prices from sorted ticks, then cuts to depth.
func uniqueDepth(ticks Ticks, depth int) Ticks {
	result := make(Ticks, 0, depth)
	for i, tick := range ticks {
		if i > 0 && tick.Price == ticks[i-1].Price {
			continue
		}
		if len(result) >= depth {
			break
		}
		result = append(result, tick)
	}
	return result
}

// Book decodes a snapshot into bids descending and asks ascending, each at most depth levels.
func (snapshot *OrderBookSnapshot) Book(depth int) (*OrderBook, error) {
	bids, err := decodeLevels(snapshot.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := decodeLevels(snapshot.Asks)
	if err != nil {
		return nil, err
	}
	sort.Stable(sort.Reverse(bids))
	sort.Stable(asks)
	return &OrderBook{Symbol: snapshot.Symbol, Timestamp: snapshot.Timestamp.UTC(),
		Bids: uniqueDepth(bids, depth), Asks: uniqueDepth(asks, depth)}, nil
}
