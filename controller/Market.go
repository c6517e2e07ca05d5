package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/collect"
	"github.com/upupup126/quant-trading-platform/market"
	"github.com/upupup126/quant-trading-platform/model"
	"github.com/upupup126/quant-trading-platform/util"
)

var tickerSorts = map[string]bool{`volume`: true, `change_percent`: true, `turnover`: true}

type Summaries interface {
	Summary(ctx context.Context, segment, window string) model.MarketSummary
}

// MarketController serves the /api/v1/market routes.
type MarketController struct {
	store     *market.Store
	summaries Summaries
	collector *collect.Collector
	ledger    *collect.Ledger
	cache     market.SummaryCache
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewMarketController(store *market.Store, summaries Summaries, collector *collect.Collector,
	ledger *collect.Ledger, cache market.SummaryCache, logger *zap.Logger) *MarketController {
	if cache == nil {
		cache = market.NopCache{}
	}
	return &MarketController{store: store, summaries: summaries, collector: collector, ledger: ledger,
		cache: cache, logger: logger.With(zap.String(`component`, `http`)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		}}
}

func NewRouter(mode string, controller *MarketController, logger *zap.Logger) *gin.Engine {
	if mode != `` {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger))
	controller.Register(router.Group(`/api/v1/market`))
	return router
}

func (controller *MarketController) Register(group *gin.RouterGroup) {
	group.GET(`/summary`, controller.summary)
	group.GET(`/summary/stream`, controller.stream)
	group.GET(`/kline/:symbol`, controller.kline)
	group.GET(`/orderbook/:symbol`, controller.orderBook)
	group.GET(`/tickers`, controller.tickers)
	group.GET(`/symbols`, controller.symbols)
	group.GET(`/symbols/:symbol/info`, controller.symbolInfo)
	group.GET(`/search`, controller.search)
	group.POST(`/update/batch`, controller.updateBatch)
	group.POST(`/update/:symbol`, controller.update)
	group.GET(`/update/status`, controller.updateStatus)
	group.GET(`/health`, controller.health)
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(`request`, zap.String(`method`, c.Request.Method), zap.String(`path`, c.Request.URL.Path),
			zap.Int(`status`, c.Writer.Status()), zap.Duration(`elapsed`, time.Since(start)))
	}
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{`detail`: message})
}

// intQuery reads an optional bounded integer parameter, answering 400 itself when it is invalid.
func intQuery(c *gin.Context, name string, def, min, max int) (int, bool) {
	text := c.Query(name)
	if text == `` {
		return def, true
	}
	value, err := strconv.Atoi(text)
	if err != nil || value < min || value > max {
		fail(c, http.StatusBadRequest, name+` must be an integer between `+strconv.Itoa(min)+` and `+
			strconv.Itoa(max))
		return 0, false
	}
	return value, true
}

func timeQuery(c *gin.Context, name string) (*time.Time, bool) {
	text := c.Query(name)
	if text == `` {
		return nil, true
	}
	t, err := util.ParseTime(text)
	if err != nil {
		fail(c, http.StatusBadRequest, `invalid `+name+`: `+text)
		return nil, false
	}
	return &t, true
}

func periodQuery(c *gin.Context) (string, bool) {
	period := c.DefaultQuery(`period`, `1d`)
	if !model.ValidPeriod(period) {
		fail(c, http.StatusBadRequest, `unsupported period `+period)
		return ``, false
	}
	return period, true
}

func windowQuery(c *gin.Context) (string, bool) {
	window := c.DefaultQuery(`time_range`, model.Window24h)
	if !model.ValidWindow(window) {
		fail(c, http.StatusBadRequest, `time_range must be 24h, 7d or 30d`)
		return ``, false
	}
	return window, true
}

func (controller *MarketController) summary(c *gin.Context) {
	window, ok := windowQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, controller.summaries.Summary(c.Request.Context(), c.Query(`market_type`), window))
}

func (controller *MarketController) kline(c *gin.Context) {
	period, ok := periodQuery(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, `limit`, 1000, 1, 10000)
	if !ok {
		return
	}
	start, ok := timeQuery(c, `start_time`)
	if !ok {
		return
	}
	end, ok := timeQuery(c, `end_time`)
	if !ok {
		return
	}
	candles, err := controller.store.Candles(c.Param(`symbol`), period, start, end, limit)
	if err != nil {
		controller.logger.Error(`kline query`, zap.String(`symbol`, c.Param(`symbol`)), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, candles)
}

func (controller *MarketController) orderBook(c *gin.Context) {
	depth, ok := intQuery(c, `depth`, 10, 1, 50)
	if !ok {
		return
	}
	book, err := controller.store.OrderBook(c.Param(`symbol`), depth)
	if errors.Cause(err) == model.ErrNotFound {
		fail(c, http.StatusNotFound, `order book not found`)
		return
	}
	if err != nil {
		controller.logger.Error(`order book query`, zap.String(`symbol`, c.Param(`symbol`)), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, book)
}

func (controller *MarketController) tickers(c *gin.Context) {
	sortBy := c.DefaultQuery(`sort_by`, `volume`)
	if !tickerSorts[sortBy] {
		fail(c, http.StatusBadRequest, `sort_by must be volume, change_percent or turnover`)
		return
	}
	sortOrder := strings.ToLower(c.DefaultQuery(`sort_order`, `desc`))
	if sortOrder != `asc` && sortOrder != `desc` {
		fail(c, http.StatusBadRequest, `sort_order must be asc or desc`)
		return
	}
	limit, ok := intQuery(c, `limit`, 100, 1, 500)
	if !ok {
		return
	}
	tickers, err := controller.store.Tickers(c.Query(`market_type`), sortBy, sortOrder, limit)
	if err != nil {
		controller.logger.Error(`ticker query`, zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, tickers)
}

func (controller *MarketController) symbols(c *gin.Context) {
	symbols, err := controller.store.ActiveSymbols(c.Query(`market_type`))
	if err != nil {
		controller.logger.Error(`symbol query`, zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, symbols)
}

func (controller *MarketController) symbolInfo(c *gin.Context) {
	info, err := controller.store.SymbolInfo(c.Param(`symbol`))
	if errors.Cause(err) == model.ErrNotFound {
		fail(c, http.StatusNotFound, `symbol not found`)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, info)
}

func (controller *MarketController) search(c *gin.Context) {
	text := strings.TrimSpace(c.Query(`query`))
	if text == `` {
		fail(c, http.StatusBadRequest, `query is required`)
		return
	}
	limit, ok := intQuery(c, `limit`, 10, 1, 50)
	if !ok {
		return
	}
	symbols, err := controller.store.Search(text, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, symbols)
}

func (controller *MarketController) update(c *gin.Context) {
	period, ok := periodQuery(c)
	if !ok {
		return
	}
	symbol := c.Param(`symbol`)
	result := controller.collector.CollectOne(c.Request.Context(), symbol, c.Query(`data_source`),
		collect.BatchOptions{Period: period})
	if !result.Success {
		controller.logger.Warn(`manual update failed`, zap.String(`symbol`, symbol),
			zap.String(`message`, result.Message))
		fail(c, failureStatus(result.Err), result.Message)
		return
	}
	controller.cache.Invalidate(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// failureStatus maps an ingestion failure onto the side at fault: request, upstream or this service.
func failureStatus(err error) int {
	switch errors.Cause(err) {
	case model.ErrPersistence, context.Canceled, context.DeadlineExceeded:
		return http.StatusInternalServerError
	case model.ErrNoSourceAvailable:
		return http.StatusServiceUnavailable
	case model.ErrUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

func (controller *MarketController) updateBatch(c *gin.Context) {
	period, ok := periodQuery(c)
	if !ok {
		return
	}
	symbols := make([]string, 0)
	for _, value := range c.QueryArray(`symbols`) {
		for _, symbol := range strings.Split(value, `,`) {
			if symbol = strings.TrimSpace(symbol); symbol != `` {
				symbols = append(symbols, symbol)
			}
		}
	}
	if len(symbols) == 0 {
		fail(c, http.StatusBadRequest, `symbols is required`)
		return
	}
	batch, err := controller.collector.CollectBatch(c.Request.Context(), symbols, c.Query(`data_source`),
		collect.BatchOptions{Period: period})
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if batch.SuccessCount > 0 {
		controller.cache.Invalidate(c.Request.Context())
	}
	c.JSON(http.StatusOK, batch)
}

func (controller *MarketController) updateStatus(c *gin.Context) {
	task, err := controller.ledger.Query(c.Query(`task_id`))
	if errors.Cause(err) == model.ErrNotFound {
		fail(c, http.StatusNotFound, `task not found`)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

func (controller *MarketController) health(c *gin.Context) {
	health := controller.store.Health()
	status := http.StatusOK
	if health.Status != `healthy` {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
