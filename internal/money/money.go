// Package money pins down the fixed-point arithmetic used for balances
// and transaction amounts. Everything is a shopspring decimal scaled to
// two fractional digits; floats never enter the ledger.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits of the smallest currency unit.
const Scale = 2

// Zero is the opening balance of every account.
var Zero = decimal.Zero

// ValidAmount reports whether d is usable as a transaction amount:
// strictly positive and representable at the ledger scale.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(Scale))
}
