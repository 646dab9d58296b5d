package models

import (
	"regexp"
	"strings"
)

// ISO 4217 codes ("USD") and token symbols ("USDT", "ETH", "1INCH").
var currencyCodeRegexp = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

// NormalizeCurrency upper-cases and validates a currency code or token symbol.
func NormalizeCurrency(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !currencyCodeRegexp.MatchString(normalized) {
		return "", ValidationError("invalid currency code %q", code)
	}
	return normalized, nil
}
