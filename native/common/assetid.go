package common

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxAssetIDLength bounds asset identifiers accepted by the registry and the ledger.
const MaxAssetIDLength = 128

var ErrInvalidAssetID = errors.New("invalid asset id")

// NormalizeAssetID trims and NFC-normalises an asset identifier so visually
// identical ids map to the same ledger key.
func NormalizeAssetID(id string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(id))
	if normalized == "" || len(normalized) > MaxAssetIDLength {
		return "", ErrInvalidAssetID
	}
	for _, r := range normalized {
		if unicode.IsControl(r) {
			return "", ErrInvalidAssetID
		}
	}
	return normalized, nil
}
