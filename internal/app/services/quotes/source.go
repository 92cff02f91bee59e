// Package quotes fetches prices for tracked symbols from external
// providers and degrades through an ordered fallback chain when
// providers misbehave.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/meridianvest/marketfeed/internal/app/domain/market"
)

// Provider failure taxonomy. The fallback chain recovers all of these
// locally by advancing to the next source.
var (
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrProviderMalformed   = errors.New("provider malformed response")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Source retrieves quotes for a batch of symbols. A source returns
// quotes for the symbols it could satisfy; missing symbols are not an
// error on their own.
type Source interface {
	Name() string
	AssetClass() market.AssetClass
	Fetch(ctx context.Context, symbols []string) (map[string]market.Quote, error)
}

// classifyHTTPErr maps a transport error to the provider taxonomy.
func classifyHTTPErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// classifyStatus maps a non-2xx response status to the provider taxonomy.
func classifyStatus(status int) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrProviderRateLimited, status)
	}
	return fmt.Errorf("%w: status %d", ErrProviderUnavailable, status)
}
