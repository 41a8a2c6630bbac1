package schema

import "github.com/shopspring/decimal"

// BalanceAsset is one wallet asset with its USD valuation.
type BalanceAsset struct {
	Symbol        string
	WalletBalance decimal.Decimal
	USDValue      decimal.Decimal
}

// Balance is the store projection of the account balance in USD terms.
// Invariant: Total equals the sum of asset USD values.
type Balance struct {
	Total  decimal.Decimal
	Free   decimal.Decimal
	Used   decimal.Decimal
	UPnl   decimal.Decimal
	Assets []BalanceAsset
}

// RecomputeTotal re-derives Total from the asset USD values.
func (b *Balance) RecomputeTotal() {
	total := decimal.Zero
	for _, asset := range b.Assets {
		total = total.Add(asset.USDValue)
	}
	b.Total = total
}
