// Package contract maps logical commodity codes to their current concrete
// main-contract instrument and detects rollover.
package contract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// Symbol formats:
//
// The engine works with a unified format, upper-case commodity code plus a
// four digit year-month, e.g. "RB2505". Exchanges use their own notations:
// SHFE/DCE/INE/GFEX are lower-case with four digits ("rb2505"), CFFEX is
// upper-case with four digits ("IF2412"), and CZCE is upper-case with only
// three digits ("TA505"). A full instrument code carries the exchange as a
// suffix: "rb2505.SHFE".

var (
	patternStandard  = regexp.MustCompile(`^([A-Z]+)(\d{4})$`)
	patternExchange4 = regexp.MustCompile(`^([a-zA-Z]+)(\d{4})$`)
	patternExchange3 = regexp.MustCompile(`^([A-Z]+)(\d{3})$`)
)

type exchangeFormat struct {
	lower      bool
	dateDigits int
}

var exchangeFormats = map[types.Exchange]exchangeFormat{
	types.ExchangeSHFE:  {lower: true, dateDigits: 4},
	types.ExchangeDCE:   {lower: true, dateDigits: 4},
	types.ExchangeINE:   {lower: true, dateDigits: 4},
	types.ExchangeGFEX:  {lower: true, dateDigits: 4},
	types.ExchangeCFFEX: {lower: false, dateDigits: 4},
	types.ExchangeCZCE:  {lower: false, dateDigits: 3},
}

// ToStandard converts an exchange-format symbol to the unified format.
// Returns the input unchanged when it does not match the exchange's format.
func ToStandard(symbol string, exchange types.Exchange) string {
	format, ok := exchangeFormats[exchange]
	if !ok {
		return symbol
	}

	if format.dateDigits == 4 {
		m := patternExchange4.FindStringSubmatch(symbol)
		if m == nil {
			return symbol
		}

		return strings.ToUpper(m[1]) + m[2]
	}

	// CZCE: single year digit, expand using the current decade.
	m := patternExchange3.FindStringSubmatch(symbol)
	if m == nil {
		return symbol
	}

	yearDigit, _ := strconv.Atoi(m[2][:1])
	month := m[2][1:]

	return m[1] + strconv.Itoa(inferFullYear(yearDigit, time.Now())) + month
}

// ToExchange converts a unified-format symbol to the exchange's notation.
func ToExchange(symbol string, exchange types.Exchange) string {
	format, ok := exchangeFormats[exchange]
	if !ok {
		return symbol
	}

	m := patternStandard.FindStringSubmatch(symbol)
	if m == nil {
		return symbol
	}

	commodity, date := m[1], m[2]
	if format.dateDigits == 3 {
		date = date[1:]
	}

	if format.lower {
		commodity = strings.ToLower(commodity)
	}

	return commodity + date
}

// Commodity extracts the commodity code from a unified-format symbol,
// e.g. "RB2505" -> "RB". Returns "" when the format does not match.
func Commodity(symbol string) string {
	m := patternStandard.FindStringSubmatch(symbol)
	if m == nil {
		return ""
	}

	return m[1]
}

// YearMonth extracts the two-digit year and month from a unified-format
// symbol, e.g. "RB2505" -> (25, 5).
func YearMonth(symbol string) (year, month int, ok bool) {
	m := patternStandard.FindStringSubmatch(symbol)
	if m == nil {
		return 0, 0, false
	}

	year, _ = strconv.Atoi(m[2][:2])
	month, _ = strconv.Atoi(m[2][2:])

	return year, month, true
}

// SplitInstrument splits a full instrument code ("rb2505.SHFE") into its
// exchange-format symbol and exchange.
func SplitInstrument(instrument string) (string, types.Exchange, error) {
	idx := strings.LastIndex(instrument, ".")
	if idx <= 0 || idx == len(instrument)-1 {
		return "", "", errors.Newf(errors.ErrCodeInvalidSymbol, "instrument %q missing exchange suffix", instrument)
	}

	symbol := instrument[:idx]
	exchange := types.Exchange(instrument[idx+1:])
	if _, ok := exchangeFormats[exchange]; !ok {
		return "", "", errors.Newf(errors.ErrCodeInvalidSymbol, "instrument %q has unknown exchange %q", instrument, exchange)
	}

	return symbol, exchange, nil
}

// JoinInstrument builds a full instrument code from a unified-format
// symbol and exchange, e.g. ("RB2505", SHFE) -> "rb2505.SHFE".
func JoinInstrument(symbol string, exchange types.Exchange) string {
	return ToExchange(symbol, exchange) + "." + string(exchange)
}

// inferFullYear expands a single year digit to two digits, assuming the
// contract expires within ten years of now.
func inferFullYear(digit int, now time.Time) int {
	current := now.Year() % 100
	decade := current - current%10
	candidate := decade + digit

	// Contracts never list more than a few months in the past.
	if candidate < current-1 {
		candidate += 10
	}

	return candidate
}
