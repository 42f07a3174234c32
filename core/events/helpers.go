package events

import (
	"strings"

	"github.com/holiman/uint256"
)

func normalizeDenom(denom string) string {
	trimmed := strings.TrimSpace(denom)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
