package controller

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// stream pushes the market summary to a dashboard client every interval seconds until it disconnects.
func (controller *MarketController) stream(c *gin.Context) {
	interval, ok := intQuery(c, `interval`, 5, 1, 300)
	if !ok {
		return
	}
	window, ok := windowQuery(c)
	if !ok {
		return
	}
	segment := c.Query(`market_type`)
	conn, err := controller.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		controller.logger.Warn(`websocket upgrade`, zap.Error(err))
		return
	}
	defer conn.Close()
	controller.logger.Info(`summary stream opened`, zap.String(`remote`, conn.RemoteAddr().String()),
		zap.Int(`interval`, interval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for {
		summary := controller.summaries.Summary(ctx, segment, window)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err = conn.WriteJSON(summary); err != nil {
			controller.logger.Info(`summary stream closed`, zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			controller.logger.Info(`summary stream closed by client`)
			return
		case <-ticker.C:
		}
	}
}
