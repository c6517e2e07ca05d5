package model

import (
	"regexp"
	"strings"
)

var cryptoQuotes = []string{`USDT`, `BUSD`, `USDC`, `BTC`, `ETH`}

var (
	sixDigits    = regexp.MustCompile(`^[0-9]{6}$`)
	exchangeCode = regexp.MustCompile(`^[0-9]{6}\.(SH|SZ)$`)
	shortLetters = regexp.MustCompile(`^[A-Z]{1,5}$`)
	currencyPair = regexp.MustCompile(`^[A-Z]{6}$`)
)

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// DetectSegment classifies a symbol; the checks are order sensitive.
func DetectSegment(symbol string) string {
	symbol = normalize(symbol)
	for _, quote := range cryptoQuotes {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return SegmentCrypto
		}
	}
	switch {
	case sixDigits.MatchString(symbol):
		return SegmentAShare
	case strings.HasSuffix(symbol, `.SH`) || strings.HasSuffix(symbol, `.SZ`):
		return SegmentAShare
	case shortLetters.MatchString(symbol):
		return SegmentUSStock
	case currencyPair.MatchString(symbol):
		return SegmentForex
	}
	return SegmentStock
}

// MatchesSegment reports whether a symbol follows the naming convention of segment.
// Generic stocks are expected to carry an exchange suffix.
func MatchesSegment(symbol, segment string) bool {
	symbol = normalize(symbol)
	switch segment {
	case ``, SegmentStock:
		return strings.HasSuffix(symbol, `.SH`) || strings.HasSuffix(symbol, `.SZ`)
	case SegmentAShare:
		return exchangeCode.MatchString(symbol) || sixDigits.MatchString(symbol)
	}
	return DetectSegment(symbol) == segment
}

// SplitAssets guesses base and quote assets from the symbol text.
func SplitAssets(symbol, segment string) (base, quote string) {
	symbol = normalize(symbol)
	switch segment {
	case SegmentCrypto:
		for _, q := range cryptoQuotes {
			if strings.HasSuffix(symbol, q) {
				return strings.TrimSuffix(symbol, q), q
			}
		}
	case SegmentForex:
		return symbol[:3], symbol[3:]
	case SegmentAShare:
		return strings.Split(symbol, `.`)[0], `CNY`
	case SegmentUSStock:
		return symbol, `USD`
	}
	return symbol, ``
}

// AShareCode returns the six digit code and exchange (SH or SZ) of an A-share symbol.
func AShareCode(symbol string) (code, exchange string) {
	symbol = normalize(symbol)
	parts := strings.SplitN(symbol, `.`, 2)
	code = parts[0]
	if len(parts) == 2 {
		return code, parts[1]
	}
	if strings.HasPrefix(code, `6`) || strings.HasPrefix(code, `9`) {
		return code, `SH`
	}
	return code, `SZ`
}
