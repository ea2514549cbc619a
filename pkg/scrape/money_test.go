package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int64
	}{
		{"symbol and separators", "¥1,234,567", 1234567},
		{"negative", "-¥12,345", -12345},
		{"negative after symbol", "¥-12,345", -12345},
		{"explicit plus", "+¥3,000", 3000},
		{"yen suffix", "4,703,541円", 4703541},
		{"label prefix", "資産総額：4703541", 4703541},
		{"whitespace", "  ¥ 1,000 ", 1000},
		{"plain number", "42", 42},
		{"empty", "", 0},
		{"dash only", "-", 0},
		{"no digits", "円¥,", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCurrency(tt.text))
		})
	}
}
