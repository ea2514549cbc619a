package scrape

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	currencyNoise = regexp.MustCompile(`[¥円,\s]`)
	signedInteger = regexp.MustCompile(`[-+]?\d+`)
)

// ParseCurrency parses a localized currency string into integer minor
// units. Handles symbols, thousands separators, an optional leading sign
// and label prefixes such as "資産総額：4703541". Returns 0 for text with
// no numeric portion.
func ParseCurrency(text string) int64 {
	cleaned := currencyNoise.ReplaceAllString(text, "")
	match := signedInteger.FindString(cleaned)
	if match == "" {
		return 0
	}
	match = strings.TrimPrefix(match, "+")
	n, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
