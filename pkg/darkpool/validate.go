package darkpool

// MaxLeverage is the hard cap on order leverage.
const MaxLeverage = 100

// Validate checks a single order's well-formedness. It runs inside the
// confidential boundary: callers observe only the boolean, never the
// order fields. All checks are required; there is no partial credit and
// no side effect.
func Validate(o Order) bool {
	return o.SizeUSD > 0 &&
		o.CollateralAmount > 0 &&
		o.Leverage > 0 &&
		o.Leverage <= MaxLeverage &&
		o.LimitPrice > 0 &&
		o.Side.Valid()
}
