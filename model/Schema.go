package model

import (
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// AutoMigrate creates the market tables and their unique keys.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(&Candle{}, &SymbolInfo{}, &Ticker{}, &OrderBookSnapshot{}, &UpdateTask{}).Error
	if err != nil {
		return errors.Wrap(err, `migrate`)
	}
	return nil
}
