package util

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
)

// OpenDB opens gorm over a pgx pool for postgres, or directly for sqlite3.
// The returned close func releases the pool as well as the gorm handle.
func OpenDB(ctx context.Context, dialect, dsn string, maxConns int32) (*gorm.DB, func(), error) {
	switch dialect {
	case `postgres`:
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, errors.Wrap(err, `parse postgres dsn`)
		}
		if maxConns > 0 {
			poolConfig.MaxConns = maxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, errors.Wrap(err, `open pgx pool`)
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, `ping postgres`)
		}
		sqlDB := stdlib.OpenDBFromPool(pool)
		db, err := gorm.Open(`postgres`, sqlDB)
		if err != nil {
			_ = sqlDB.Close()
			pool.Close()
			return nil, nil, errors.Wrap(err, `open gorm`)
		}
		return db, func() {
			_ = db.Close()
			pool.Close()
		}, nil
	case `sqlite3`:
		db, err := gorm.Open(`sqlite3`, dsn)
		if err != nil {
			return nil, nil, errors.Wrap(err, `open sqlite`)
		}
		// every :memory: connection is a separate database
		db.DB().SetMaxOpenConns(1)
		return db, func() { _ = db.Close() }, nil
	}
	return nil, nil, errors.Errorf(`unsupported database dialect %s`, dialect)
}
