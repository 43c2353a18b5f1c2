package bridge

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the token precision assumed when none is configured.
const DefaultDecimals = 18

// ToUnits converts a base-unit amount into an exact human-unit decimal.
func ToUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// FormatUnits renders a base-unit amount as a human-unit decimal string without trailing zeros.
func FormatUnits(v *big.Int, decimals int32) string {
	return ToUnits(v, decimals).String()
}
