package oracle

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
)

type quote struct {
	price sdkmath.LegacyDec
	at    time.Time
}

// Static is an in-process oracle fed by SetPrice calls. It applies the same
// staleness and positivity rules as the live feed client, so tests exercise
// the real refusal paths.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]quote
	maxAge time.Duration
	now    func() time.Time
}

// NewStatic creates a static oracle. A maxAge of zero disables staleness
// checks entirely.
func NewStatic(maxAge time.Duration) *Static {
	return &Static{
		quotes: make(map[string]quote),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Static) WithClock(now func() time.Time) *Static {
	s.now = now
	return s
}

// SetPrice records a quote for the asset, timestamped now.
func (s *Static) SetPrice(asset string, price sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[asset] = quote{price: price, at: s.now()}
}

// GetPrice implements Oracle.
func (s *Static) GetPrice(asset string) (sdkmath.LegacyDec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[asset]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: no quote for %s", types.ErrStaleOracle, asset)
	}
	if q.price.IsNil() || !q.price.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: degenerate price for %s", types.ErrStaleOracle, asset)
	}
	if s.maxAge > 0 && s.now().Sub(q.at) > s.maxAge {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: quote for %s is %s old", types.ErrStaleOracle, asset, s.now().Sub(q.at))
	}
	return q.price, nil
}
