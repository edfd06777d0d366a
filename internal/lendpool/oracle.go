package lendpool

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNoPrice is returned when the oracle has no quote for an asset.
var ErrNoPrice = errors.New("lendpool: no price for asset")

// PriceOracle quotes asset prices in a common base unit. The pool only needs
// relative prices to run its collateralisation check.
type PriceOracle interface {
	Price(asset common.Address) (sdkmath.LegacyDec, error)
}

// StaticOracle is a fixed price table, set once by the environment. The pool
// treats pricing as an external concern, so this is deliberately dumb.
type StaticOracle struct {
	prices map[common.Address]sdkmath.LegacyDec
}

// NewStaticOracle creates an empty price table.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[common.Address]sdkmath.LegacyDec)}
}

// SetPrice sets the quote for an asset.
func (o *StaticOracle) SetPrice(asset common.Address, price sdkmath.LegacyDec) {
	o.prices[asset] = price
}

// Price returns the quote for an asset.
func (o *StaticOracle) Price(asset common.Address) (sdkmath.LegacyDec, error) {
	price, ok := o.prices[asset]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrNoPrice, asset.Hex())
	}
	return price, nil
}
