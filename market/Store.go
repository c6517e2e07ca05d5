package market

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

var tickerSortColumns = map[string]string{`volume`: `t.volume`, `change_percent`: `t.price_change_percent`,
	`turnover`: `t.turnover`}

// Store answers the read side of the market tables.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.With(zap.String(`component`, `store`))}
}

// Candles returns the latest limit candles in [start, end], oldest first.
func (store *Store) Candles(symbol, period string, start, end *time.Time, limit int) ([]model.Candle, error) {
	query := store.db.Where(`symbol = ? AND period = ?`, strings.ToUpper(symbol), period)
	if start != nil {
		query = query.Where(`timestamp >= ?`, start.UTC())
	}
	if end != nil {
		query = query.Where(`timestamp <= ?`, end.UTC())
	}
	candles := make([]model.Candle, 0, limit)
	if err := query.Order(`timestamp desc`).Limit(limit).Find(&candles).Error; err != nil {
		return nil, errors.Wrap(err, `query candles`)
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	for i := range candles {
		candles[i].Timestamp = candles[i].Timestamp.UTC()
	}
	return candles, nil
}

func (store *Store) OrderBook(symbol string, depth int) (*model.OrderBook, error) {
	snapshot := &model.OrderBookSnapshot{}
	err := store.db.Where(`symbol = ?`, strings.ToUpper(symbol)).Order(`timestamp desc`).First(snapshot).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, errors.Wrapf(model.ErrNotFound, `order book %s`, symbol)
	}
	if err != nil {
		return nil, errors.Wrap(err, `query order book`)
	}
	return snapshot.Book(depth)
}

func (store *Store) SaveOrderBook(symbol string, timestamp time.Time, bids, asks [][2]float64) error {
	bidText, err := model.EncodeLevels(bids)
	if err != nil {
		return err
	}
	askText, err := model.EncodeLevels(asks)
	if err != nil {
		return err
	}
	snapshot := &model.OrderBookSnapshot{Symbol: strings.ToUpper(symbol), Timestamp: timestamp.UTC(),
		Bids: bidText, Asks: askText}
	if err = store.db.Create(snapshot).Error; err != nil {
		return errors.Wrapf(model.ErrPersistence, `save order book: %v`, err)
	}
	return nil
}

func (store *Store) SaveTicker(ticker *model.Ticker) error {
	ticker.Symbol = strings.ToUpper(ticker.Symbol)
	ticker.Timestamp = ticker.Timestamp.UTC()
	if err := store.db.Create(ticker).Error; err != nil {
		return errors.Wrapf(model.ErrPersistence, `save ticker: %v`, err)
	}
	return nil
}

// Tickers lists the latest ticker per symbol with its display name.
func (store *Store) Tickers(segment, sortBy, sortOrder string, limit int) ([]model.Ticker, error) {
	column, ok := tickerSortColumns[sortBy]
	if !ok {
		column = tickerSortColumns[`volume`]
	}
	direction := `DESC`
	if strings.EqualFold(sortOrder, `asc`) {
		direction = `ASC`
	}
	args := make([]interface{}, 0, 2)
	sqlText := `SELECT t.symbol, t.timestamp, t.last_price, t.price_change, t.price_change_percent, t.high, t.low, ` +
		`t.volume, t.turnover, s.name FROM market_ticker t ` +
		`JOIN (SELECT symbol, MAX(timestamp) AS ts FROM market_ticker GROUP BY symbol) latest ` +
		`ON latest.symbol = t.symbol AND latest.ts = t.timestamp ` +
		`LEFT JOIN symbol_info s ON s.symbol = t.symbol`
	if segment != `` {
		sqlText += ` WHERE s.market_type = ?`
		args = append(args, segment)
	}
	sqlText += ` ORDER BY ` + column + ` ` + direction + `, t.symbol LIMIT ?`
	args = append(args, limit)
	rows, err := store.db.Raw(sqlText, args...).Rows()
	if err != nil {
		return nil, errors.Wrap(err, `query tickers`)
	}
	defer rows.Close()
	tickers := make([]model.Ticker, 0, limit)
	seen := make(map[string]bool)
	for rows.Next() {
		ticker := model.Ticker{}
		var name sql.NullString
		if err = rows.Scan(&ticker.Symbol, &ticker.Timestamp, &ticker.LastPrice, &ticker.PriceChange,
			&ticker.PriceChangePercent, &ticker.High, &ticker.Low, &ticker.Volume, &ticker.Turnover,
			&name); err != nil {
			return nil, errors.Wrap(err, `scan ticker`)
		}
		if seen[ticker.Symbol] {
			continue
		}
		seen[ticker.Symbol] = true
		ticker.Timestamp = ticker.Timestamp.UTC()
		ticker.Name = ticker.Symbol
		if name.Valid && name.String != `` {
			ticker.Name = name.String
		}
		tickers = append(tickers, ticker)
	}
	return tickers, errors.Wrap(rows.Err(), `iterate tickers`)
}

// Symbols lists active symbols, optionally of one segment.
func (store *Store) Symbols(segment string) ([]model.SymbolInfo, error) {
	query := store.db.Where(`status = ?`, model.StatusActive)
	if segment != `` {
		query = query.Where(`market_type = ?`, segment)
	}
	symbols := make([]model.SymbolInfo, 0)
	if err := query.Order(`symbol`).Find(&symbols).Error; err != nil {
		return nil, errors.Wrap(err, `query symbols`)
	}
	return symbols, nil
}

func (store *Store) SymbolInfo(symbol string) (*model.SymbolInfo, error) {
	info := &model.SymbolInfo{}
	err := store.db.Where(`symbol = ?`, strings.ToUpper(symbol)).First(info).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, errors.Wrapf(model.ErrNotFound, `symbol %s`, symbol)
	}
	if err != nil {
		return nil, errors.Wrap(err, `query symbol`)
	}
	return info, nil
}

// Search matches text against symbol, name and both assets of active symbols.
func (store *Store) Search(text string, limit int) ([]model.SymbolInfo, error) {
	pattern := `%` + strings.ToLower(strings.TrimSpace(text)) + `%`
	symbols := make([]model.SymbolInfo, 0, limit)
	err := store.db.Where(`status = ?`, model.StatusActive).
		Where(`LOWER(symbol) LIKE ? OR LOWER(name) LIKE ? OR LOWER(base_asset) LIKE ? OR LOWER(quote_asset) LIKE ?`,
			pattern, pattern, pattern, pattern).
		Order(`symbol`).Limit(limit).Find(&symbols).Error
	if err != nil {
		return nil, errors.Wrap(err, `search symbols`)
	}
	return symbols, nil
}

// ActiveSymbols returns the codes of active symbols in segment ("" for all).
func (store *Store) ActiveSymbols(segment string) ([]string, error) {
	symbols, err := store.Symbols(segment)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		codes = append(codes, symbol.Symbol)
	}
	return codes, nil
}

type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Symbols  int    `json:"symbols"`
	Candles  int    `json:"candles"`
}

func (store *Store) Health() Health {
	health := Health{Status: `healthy`, Database: `connected`}
	if err := store.db.DB().Ping(); err != nil {
		store.logger.Error(`database ping`, zap.Error(err))
		return Health{Status: `unhealthy`, Database: err.Error()}
	}
	store.db.Model(&model.SymbolInfo{}).Where(`status = ?`, model.StatusActive).Count(&health.Symbols)
	store.db.Model(&model.Candle{}).Count(&health.Candles)
	return health
}
