package domain

import "github.com/shopspring/decimal"

// commissionPlaces is the precision commissions are rounded to.
const commissionPlaces = 2

// Commission splits amount into the platform cut and the seller's share.
// The two parts always add up to amount exactly.
func Commission(amount, rate decimal.Decimal) (commission, sellerAmount decimal.Decimal) {
	commission = amount.Mul(rate).Round(commissionPlaces)
	sellerAmount = amount.Sub(commission)
	return commission, sellerAmount
}

// RecomputeCommission refreshes the derived fields from Amount and
// AdminCommissionRate. Stores call it on every write.
func (o *Order) RecomputeCommission() {
	o.AdminCommission, o.SellerAmount = Commission(o.Amount, o.AdminCommissionRate)
}

// CommissionConsistent reports whether the derived fields match the inputs.
func (o *Order) CommissionConsistent() bool {
	c, s := Commission(o.Amount, o.AdminCommissionRate)
	return o.AdminCommission.Equal(c) && o.SellerAmount.Equal(s) &&
		o.AdminCommission.Add(o.SellerAmount).Equal(o.Amount)
}
