package utils

import (
	"github.com/Martin-Hayot/auction-house/pkg/errors"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount keeps.
const MoneyScale = 4

// ChairCostRatio is the share of the base price a bidder must hold to join.
var ChairCostRatio = decimal.RequireFromString("0.25")

// ChairCost returns the minimum wallet balance required to join an auction,
// rounded up to MoneyScale.
func ChairCost(basePrice decimal.Decimal) decimal.Decimal {
	return basePrice.Mul(ChairCostRatio).RoundCeil(MoneyScale)
}

// CheckScale rejects amounts the store would have to round. Trailing zeros
// beyond MoneyScale are fine.
func CheckScale(field string, amount decimal.Decimal) error {
	if amount.Equal(amount.Truncate(MoneyScale)) {
		return nil
	}
	return errors.Newf(errors.KindValidation, "%s may have at most %d decimal places", field, MoneyScale)
}
