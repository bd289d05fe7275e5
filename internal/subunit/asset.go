package subunit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Upper bounds on Asset decimals. Scale is 10^(Decimals+CurrencyDecimals), so
// unbounded values would make every rounding step arbitrarily expensive.
const (
	MaxDecimals         = 36
	MaxCurrencyDecimals = 18
)

var ErrInvalidAsset = errors.New("subunit: invalid asset")

// Asset describes the single fungible asset a run tracks and the currency
// its prices are quoted in.
type Asset struct {
	Symbol string `json:"symbol"`

	// Decimals is the number of asset subunits per whole unit as a power of
	// ten (18 for ETH: 1 ETH = 10^18 wei).
	Decimals int32 `json:"decimals"`

	// CurrencyDecimals is the number of currency subunits per whole currency
	// unit as a power of ten (2 for USD cents).
	CurrencyDecimals int32 `json:"currency_decimals"`
}

// ETH priced in US cents.
var ETH = Asset{Symbol: "ETH", Decimals: 18, CurrencyDecimals: 2}

// Validate reports whether a has a symbol and decimals within
// [0, MaxDecimals] and [0, MaxCurrencyDecimals].
func (a Asset) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidAsset)
	}
	if a.Decimals < 0 || a.Decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d outside [0, %d]", ErrInvalidAsset, a.Decimals, MaxDecimals)
	}
	if a.CurrencyDecimals < 0 || a.CurrencyDecimals > MaxCurrencyDecimals {
		return fmt.Errorf("%w: currency_decimals %d outside [0, %d]",
			ErrInvalidAsset, a.CurrencyDecimals, MaxCurrencyDecimals)
	}
	return nil
}

// Scale converts amount_subunits * price_per_unit_in_currency_subunits into
// whole currency units.
func (a Asset) Scale() decimal.Decimal {
	return decimal.New(1, a.Decimals+a.CurrencyDecimals)
}

// ToSubunits converts a whole-unit quantity ("0.0004" ETH) to integer
// subunits, rounding half up.
func (a Asset) ToSubunits(units decimal.Decimal) decimal.Decimal {
	return RoundToInteger(units.Shift(a.Decimals))
}

// ToCurrencySubunits converts a whole-currency price ("2570.75" USD) into
// currency subunits without rounding.
func (a Asset) ToCurrencySubunits(price decimal.Decimal) decimal.Decimal {
	return price.Shift(a.CurrencyDecimals)
}

// FormatUnits renders an amount of subunits in whole units with the asset's
// full precision, e.g. "0.000400000000000000".
func (a Asset) FormatUnits(subunits decimal.Decimal) string {
	return subunits.Shift(-a.Decimals).StringFixed(a.Decimals)
}
