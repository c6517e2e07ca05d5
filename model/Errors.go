package model

import "github.com/pkg/errors"

var (
	ErrUnavailable       = errors.New(`source unavailable`)
	ErrUnauthenticated   = errors.New(`source rejected credential`)
	ErrEmptyDataset      = errors.New(`no data for range`)
	ErrUnsupported       = errors.New(`period not supported by source`)
	ErrNoSourceAvailable = errors.New(`no data source available`)
	ErrPersistence       = errors.New(`persistence failure`)
	ErrUnknownSource     = errors.New(`unknown data source`)
	ErrNotFound          = errors.New(`not found`)
)

// IsProviderError reports errors the pipeline recovers from by moving to the next source.
func IsProviderError(err error) bool {
	switch errors.Cause(err) {
	case ErrUnavailable, ErrUnauthenticated, ErrUnsupported, ErrEmptyDataset:
		return true
	}
	return false
}
