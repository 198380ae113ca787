package broker

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantfold/divergent/internal/instruments"
)

// Router maps symbols to the broker adapter that handles them
type Router struct {
	brokers map[string]Broker
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{brokers: make(map[string]Broker)}
}

// Register adds a broker adapter to the router
func (r *Router) Register(b Broker) {
	r.brokers[b.BrokerID()] = b
	log.Info().Str("broker", b.BrokerID()).Msg("broker registered")
}

// Route returns the adapter responsible for a symbol
func (r *Router) Route(symbol string) (Broker, error) {
	id := instruments.Route(symbol)
	b, ok := r.brokers[id]
	if !ok {
		return nil, fmt.Errorf("no broker registered for %s (symbol %s)", id, symbol)
	}
	return b, nil
}

// GetByID returns the adapter for a broker id
func (r *Router) GetByID(id string) (Broker, error) {
	b, ok := r.brokers[id]
	if !ok {
		return nil, fmt.Errorf("no broker registered for %s", id)
	}
	return b, nil
}

// All enumerates registered adapters
func (r *Router) All() []Broker {
	out := make([]Broker, 0, len(r.brokers))
	for _, b := range r.brokers {
		out = append(out, b)
	}
	return out
}

// CloseAll releases every adapter's resources
func (r *Router) CloseAll() {
	for id, b := range r.brokers {
		if err := b.Close(); err != nil {
			log.Warn().Str("broker", id).Err(err).Msg("broker close failed")
		}
	}
}
