package api

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/upupup126/quant-trading-platform/model"
)

// segmentSources is the priority table per market segment.
var segmentSources = map[string][]string{
	model.SegmentCrypto:  {model.Binance, model.AlphaVantage},
	model.SegmentAShare:  {model.Tushare, model.Eastmoney},
	model.SegmentUSStock: {model.Alpaca, model.AlphaVantage, model.YahooFinance},
	model.SegmentForex:   {model.AlphaVantage, model.YahooFinance},
	model.SegmentStock:   {model.AlphaVantage, model.YahooFinance, model.Tushare},
}

// freePreference orders credential-less sources once credentialed ones are exhausted.
var freePreference = []string{model.YahooFinance, model.Binance, model.Eastmoney}

type Selector struct {
	sources map[string]Source
	enabled map[string]bool
	logger  *zap.Logger
}

// NewSelector registers sources; names in disabled are known but never selected.
func NewSelector(sources []Source, disabled []string, logger *zap.Logger) *Selector {
	selector := &Selector{sources: make(map[string]Source), enabled: make(map[string]bool),
		logger: logger.With(zap.String(`component`, `selector`))}
	for _, source := range sources {
		selector.sources[source.Name()] = source
		selector.enabled[source.Name()] = true
	}
	for _, name := range disabled {
		selector.enabled[name] = false
	}
	return selector
}

// NewSelectorFromConfig wires every adapter with the Disabled flags of config.
func NewSelectorFromConfig(config *model.Config, logger *zap.Logger) *Selector {
	disabled := make([]string, 0)
	for name, source := range config.Sources {
		if source != nil && source.Disabled {
			disabled = append(disabled, name)
		}
	}
	return NewSelector(NewSources(config, logger), disabled, logger)
}

func (selector *Selector) DetectSegment(symbol string) string {
	return model.DetectSegment(symbol)
}

func (selector *Selector) Source(name string) (Source, error) {
	source, ok := selector.sources[name]
	if !ok || !selector.enabled[name] {
		return nil, errors.Wrapf(model.ErrUnknownSource, `%s`, name)
	}
	return source, nil
}

// ForSegment lists usable sources for a segment: credentialed first, then free ones by preference.
func (selector *Selector) ForSegment(segment string) []Source {
	names, ok := segmentSources[segment]
	if !ok {
		return nil
	}
	result := make([]Source, 0, len(names))
	for _, name := range names {
		source, err := selector.Source(name)
		if err != nil {
			continue
		}
		if source.HasCredential() {
			result = append(result, source)
		}
	}
	for _, name := range freePreference {
		if !contains(names, name) {
			continue
		}
		source, err := selector.Source(name)
		if err != nil || source.RequiresCredential() || source.HasCredential() {
			continue
		}
		result = append(result, source)
	}
	return result
}

// Select returns the ordered candidates for symbol or ErrNoSourceAvailable.
func (selector *Selector) Select(symbol string) ([]Source, error) {
	segment := model.DetectSegment(symbol)
	candidates := selector.ForSegment(segment)
	if len(candidates) == 0 {
		return nil, errors.Wrapf(model.ErrNoSourceAvailable, `%s (%s)`, symbol, segment)
	}
	return candidates, nil
}

// Candidates puts an explicitly requested source ahead of the selected fallbacks.
func (selector *Selector) Candidates(symbol, preferred string) ([]Source, error) {
	if preferred == `` {
		return selector.Select(symbol)
	}
	first, err := selector.Source(preferred)
	if err != nil {
		return nil, err
	}
	result := []Source{first}
	fallbacks, err := selector.Select(symbol)
	if err != nil {
		selector.logger.Debug(`no fallback`, zap.String(`symbol`, symbol), zap.Error(err))
		return result, nil
	}
	for _, source := range fallbacks {
		if source.Name() != preferred {
			result = append(result, source)
		}
	}
	return result, nil
}

// FirstCredentialed names the source a refresh should use for segment, or "" when none is usable.
func (selector *Selector) FirstCredentialed(segment string) string {
	candidates := selector.ForSegment(segment)
	if len(candidates) == 0 {
		return ``
	}
	return candidates[0].Name()
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
