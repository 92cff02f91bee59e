// Package registry supplies the set of symbols the scheduler polls each
// cycle. Entries come from a static YAML file or from the registry
// store, which can change between cycles.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
	"github.com/meridianvest/marketfeed/internal/app/storage"
)

// Provider yields the symbols to track on each polling cycle.
type Provider interface {
	ListTracked(ctx context.Context) ([]market.RegistryEntry, error)
}

// StaticProvider serves a fixed entry list loaded once at startup.
type StaticProvider struct {
	entries []market.RegistryEntry
}

// NewStatic builds a provider over the given entries.
func NewStatic(entries []market.RegistryEntry) *StaticProvider {
	return &StaticProvider{entries: normalize(entries)}
}

// LoadStatic reads a YAML catalog file of the form:
//
//	symbols:
//	  - symbol: BTC
//	    asset_class: crypto
//	    display_name: Bitcoin
func LoadStatic(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var doc struct {
		Symbols []market.RegistryEntry `yaml:"symbols"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry file %s: %w", path, err)
	}
	if len(doc.Symbols) == 0 {
		return nil, fmt.Errorf("registry file %s lists no symbols", path)
	}
	return NewStatic(doc.Symbols), nil
}

func (p *StaticProvider) ListTracked(ctx context.Context) ([]market.RegistryEntry, error) {
	out := make([]market.RegistryEntry, len(p.entries))
	copy(out, p.entries)
	return out, nil
}

// StoreProvider serves entries from the registry store so the tracked
// set can be edited at runtime.
type StoreProvider struct {
	store storage.RegistryStore
}

func NewStoreProvider(store storage.RegistryStore) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) ListTracked(ctx context.Context) ([]market.RegistryEntry, error) {
	return p.store.ListRegistryEntries(ctx)
}

// DefaultEntries returns the built-in catalog used when no registry file
// is configured and the store is empty.
func DefaultEntries() []market.RegistryEntry {
	return []market.RegistryEntry{
		{Symbol: "BTC", AssetClass: market.AssetCrypto, DisplayName: "Bitcoin"},
		{Symbol: "ETH", AssetClass: market.AssetCrypto, DisplayName: "Ethereum"},
		{Symbol: "ADA", AssetClass: market.AssetCrypto, DisplayName: "Cardano"},
		{Symbol: "LINK", AssetClass: market.AssetCrypto, DisplayName: "Chainlink"},
		{Symbol: "XAU", AssetClass: market.AssetMetal, DisplayName: "Gold"},
		{Symbol: "XAG", AssetClass: market.AssetMetal, DisplayName: "Silver"},
		{Symbol: "XPT", AssetClass: market.AssetMetal, DisplayName: "Platinum"},
	}
}

// SeedDefaults writes DefaultEntries into an empty registry store. A
// store that already has entries is left untouched.
func SeedDefaults(ctx context.Context, store storage.RegistryStore) error {
	existing, err := store.ListRegistryEntries(ctx)
	if err != nil {
		return fmt.Errorf("list registry entries: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, entry := range DefaultEntries() {
		if err := store.PutRegistryEntry(ctx, entry); err != nil {
			return fmt.Errorf("seed registry entry %s: %w", entry.Symbol, err)
		}
	}
	return nil
}

func normalize(entries []market.RegistryEntry) []market.RegistryEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]market.RegistryEntry, 0, len(entries))
	for _, entry := range entries {
		symbol := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		entry.Symbol = symbol
		if entry.AssetClass == "" {
			entry.AssetClass = market.AssetCrypto
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
