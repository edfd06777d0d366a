package lendpool

import (
	sdkmath "cosmossdk.io/math"
)

// InterestModel encapsulates the parameters that shape how borrow rates react
// to reserve utilisation: a kinked curve with a modest base rate.
type InterestModel struct {
	// BaseRate is the minimum borrow APR applied when utilisation is zero.
	BaseRate sdkmath.LegacyDec
	// Slope1 is the borrow APR increase per unit of utilisation up to the
	// kink point.
	Slope1 sdkmath.LegacyDec
	// Slope2 governs the additional APR increase applied when utilisation
	// exceeds the kink point.
	Slope2 sdkmath.LegacyDec
	// Kink represents the utilisation ratio where the borrow rate slope
	// changes to encourage liquidity.
	Kink sdkmath.LegacyDec
}

// NewInterestModel constructs an interest model from decimal string inputs,
// e.g. a 2% base rate is "0.02" and an 80% kink utilisation is "0.8".
func NewInterestModel(baseRate, slope1, slope2, kink string) *InterestModel {
	return &InterestModel{
		BaseRate: sdkmath.LegacyMustNewDecFromStr(baseRate),
		Slope1:   sdkmath.LegacyMustNewDecFromStr(slope1),
		Slope2:   sdkmath.LegacyMustNewDecFromStr(slope2),
		Kink:     sdkmath.LegacyMustNewDecFromStr(kink),
	}
}

// DefaultInterestModel provides a reasonable starting configuration featuring
// a kinked borrow rate curve.
func DefaultInterestModel() *InterestModel {
	return NewInterestModel("0.02", "0.15", "0.6", "0.8")
}

// Utilisation computes the reserve utilisation ratio U = totalDebt /
// totalSupplied. When no liquidity exists the utilisation is defined as zero.
func (m *InterestModel) Utilisation(totalDebt, totalSupplied sdkmath.Int) sdkmath.LegacyDec {
	if totalDebt.IsNil() || !totalDebt.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	if totalSupplied.IsNil() || !totalSupplied.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	return sdkmath.LegacyNewDecFromInt(totalDebt).QuoInt(totalSupplied)
}

// BorrowAPR derives the dynamic borrow APR based on the current utilisation.
func (m *InterestModel) BorrowAPR(totalDebt, totalSupplied sdkmath.Int) sdkmath.LegacyDec {
	if m == nil {
		return sdkmath.LegacyZeroDec()
	}
	utilisation := m.Utilisation(totalDebt, totalSupplied)
	if utilisation.IsZero() {
		return m.BaseRate
	}
	if m.Kink.IsZero() || utilisation.LTE(m.Kink) {
		// Linear region before the kink.
		return m.BaseRate.Add(m.Slope1.Mul(utilisation))
	}

	// Rate at the kink using slope1, additional rate beyond it using slope2.
	rate := m.BaseRate.Add(m.Slope1.Mul(m.Kink))
	excess := utilisation.Sub(m.Kink)
	if excess.IsNegative() {
		excess = sdkmath.LegacyZeroDec()
	}
	return rate.Add(m.Slope2.Mul(excess))
}

// SupplyRate derives the supplier-side rate from the borrow APR, utilisation
// and the protocol reserve factor (basis points).
func (m *InterestModel) SupplyRate(totalDebt, totalSupplied sdkmath.Int, reserveFactorBps uint64) sdkmath.LegacyDec {
	if m == nil {
		return sdkmath.LegacyZeroDec()
	}
	borrowAPR := m.BorrowAPR(totalDebt, totalSupplied)
	if borrowAPR.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	utilisation := m.Utilisation(totalDebt, totalSupplied)
	if utilisation.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	if reserveFactorBps > 10_000 {
		reserveFactorBps = 10_000
	}
	oneMinusReserve := sdkmath.LegacyOneDec().Sub(
		sdkmath.LegacyNewDec(int64(reserveFactorBps)).QuoInt64(10_000))
	return borrowAPR.Mul(utilisation).Mul(oneMinusReserve)
}
