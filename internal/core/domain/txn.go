package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FeeSentinel is the fee recorded when receipt data could not be obtained.
const FeeSentinel = "0"

// FeeData holds the receipt fields needed to price a transaction.
type FeeData struct {
	GasUsed           *big.Int
	EffectiveGasPrice *big.Int
}

// Complete reports whether both fee fields are present.
func (f *FeeData) Complete() bool {
	return f != nil && f.GasUsed != nil && f.EffectiveGasPrice != nil
}

// Wei returns gasUsed * effectiveGasPrice.
func (f *FeeData) Wei() *big.Int {
	if !f.Complete() {
		return new(big.Int)
	}
	return new(big.Int).Mul(f.GasUsed, f.EffectiveGasPrice)
}

// EnrichedTransaction is a TransferRecord plus its computed fee.
type EnrichedTransaction struct {
	TransferRecord
	GasFeeEth string `json:"gas_fee_eth"`
	// FeeFallback is set when GasFeeEth holds FeeSentinel instead of a real fee.
	FeeFallback bool `json:"fee_fallback,omitempty"`
}

// Enrich builds the enriched form of rec. A nil or incomplete fee yields the sentinel.
func Enrich(rec TransferRecord, fee *FeeData) EnrichedTransaction {
	if !fee.Complete() {
		return EnrichedTransaction{TransferRecord: rec, GasFeeEth: FeeSentinel, FeeFallback: true}
	}
	return EnrichedTransaction{TransferRecord: rec, GasFeeEth: FormatEther(fee.Wei())}
}

// FormatEther renders a wei amount as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return FeeSentinel
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
