package cycle

import (
	"time"

	"github.com/quantfold/divergent/internal/models"
)

// SetupStore holds validated 4h setups awaiting a 1h confirmation.
// Only the analysis cycle touches it, so no locking is needed.
type SetupStore struct {
	setups map[string]*models.ActiveSetup // keyed broker:symbol:direction
}

// NewSetupStore creates an empty setup store
func NewSetupStore() *SetupStore {
	return &SetupStore{setups: make(map[string]*models.ActiveSetup)}
}

func setupKey(brokerID, symbol string, direction models.SignalDirection) string {
	return brokerID + ":" + symbol + ":" + string(direction)
}

// Put stores a setup, replacing any previous one for the same symbol
// and direction. A symbol may hold one setup per direction, so a
// bearish setup does not evict a pending bullish one.
func (s *SetupStore) Put(brokerID string, setup *models.ActiveSetup) {
	s.setups[setupKey(brokerID, setup.Signal.Symbol, setup.Direction)] = setup
}

// Consume removes and returns the setup matching symbol and direction.
// A setup is consumed at most once.
func (s *SetupStore) Consume(brokerID, symbol string, direction models.SignalDirection) (*models.ActiveSetup, bool) {
	key := setupKey(brokerID, symbol, direction)
	setup, ok := s.setups[key]
	if !ok {
		return nil, false
	}
	delete(s.setups, key)
	return setup, true
}

// ExpireStale drops every setup whose expiry has passed and returns the
// number removed
func (s *SetupStore) ExpireStale(now time.Time) int {
	removed := 0
	for key, setup := range s.setups {
		if !setup.ExpiresAt.After(now) {
			delete(s.setups, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending setups
func (s *SetupStore) Len() int {
	return len(s.setups)
}
