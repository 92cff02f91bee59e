// Package market defines the domain model for the price feed engine:
// provider quotes, canonical feeds, append-only history and per-day
// movement statistics.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass groups symbols that share quote providers.
type AssetClass string

const (
	AssetCrypto     AssetClass = "crypto"
	AssetMetal      AssetClass = "metal"
	AssetRealEstate AssetClass = "real_estate"
)

// MovementKind classifies a price change between two reconciliations.
type MovementKind string

const (
	MovementIncrease  MovementKind = "increase"
	MovementDecrease  MovementKind = "decrease"
	MovementUnchanged MovementKind = "unchanged"
)

// GlobalSymbol keys the aggregate movement statistics row spanning all
// symbols.
const GlobalSymbol = "global"

// MaxChangePct bounds change_pct_24h so values survive fixed-precision
// storage. Kept for parity with the legacy schema.
var MaxChangePct = decimal.RequireFromString("999999.99")

// Quote is one provider's point-in-time observation for a symbol.
// Immutable once created.
type Quote struct {
	Symbol     string              `json:"symbol"`
	AssetClass AssetClass          `json:"asset_class"`
	Price      decimal.Decimal     `json:"price"`
	Change24h  decimal.Decimal     `json:"change_24h"`
	Volume24h  decimal.NullDecimal `json:"volume_24h,omitempty"`
	MarketCap  decimal.NullDecimal `json:"market_cap,omitempty"`
	Source     string              `json:"source"`
	ObservedAt time.Time           `json:"observed_at"`
}

// Feed is the canonical current-price record for a symbol. Exactly one
// Feed exists per symbol; it is mutated only by reconciliation.
type Feed struct {
	Symbol       string              `json:"symbol"`
	DisplayName  string              `json:"display_name"`
	AssetClass   AssetClass          `json:"asset_class"`
	CurrentPrice decimal.Decimal     `json:"current_price"`
	Change24h    decimal.Decimal     `json:"change_24h"`
	ChangePct24h decimal.Decimal     `json:"change_pct_24h"`
	Volume24h    decimal.NullDecimal `json:"volume_24h,omitempty"`
	MarketCap    decimal.NullDecimal `json:"market_cap,omitempty"`
	Active       bool                `json:"is_active"`
	CreatedAt    time.Time           `json:"created_at"`
	LastUpdated  time.Time           `json:"last_updated"`
}

// HistoryPoint is one accepted price change in the append-only history
// log. One record is written per reconciliation that actually moved the
// price.
type HistoryPoint struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
	ChangePct    decimal.Decimal `json:"change_pct"`
	Kind         MovementKind    `json:"movement_kind"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// MovementStats holds per-symbol-per-UTC-day movement counters and 24h
// price extremes. Counters only grow while the date is "today"; rows for
// prior dates are never mutated.
type MovementStats struct {
	Symbol    string              `json:"symbol"`
	Date      time.Time           `json:"date"`
	Increases int64               `json:"increases"`
	Decreases int64               `json:"decreases"`
	Unchanged int64               `json:"unchanged"`
	High24h   decimal.NullDecimal `json:"high_24h,omitempty"`
	Low24h    decimal.NullDecimal `json:"low_24h,omitempty"`
	Avg24h    decimal.NullDecimal `json:"avg_24h,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// RegistryEntry names a symbol the engine must poll. Supplied by the
// catalog collaborator; may change between cycles.
type RegistryEntry struct {
	Symbol      string     `json:"symbol" yaml:"symbol"`
	AssetClass  AssetClass `json:"asset_class" yaml:"asset_class"`
	DisplayName string     `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

// ClampChangePct bounds pct to [-MaxChangePct, MaxChangePct].
func ClampChangePct(pct decimal.Decimal) decimal.Decimal {
	if pct.GreaterThan(MaxChangePct) {
		return MaxChangePct
	}
	if pct.LessThan(MaxChangePct.Neg()) {
		return MaxChangePct.Neg()
	}
	return pct
}

// ClassifyMovement returns the movement kind for a price delta.
func ClassifyMovement(delta decimal.Decimal) MovementKind {
	switch delta.Sign() {
	case 1:
		return MovementIncrease
	case -1:
		return MovementDecrease
	default:
		return MovementUnchanged
	}
}

// Day truncates a timestamp to its UTC calendar day. The result keys
// MovementStats rows; an event belongs to whichever day its own
// timestamp resolves to.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
