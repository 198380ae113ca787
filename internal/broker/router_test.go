package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterRoutesBySymbol(t *testing.T) {
	r := NewRouter()
	binance := NewMockBroker("binance")
	oanda := NewMockBroker("oanda")
	r.Register(binance)
	r.Register(oanda)

	b, err := r.Route("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", b.BrokerID())

	b, err = r.Route("EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, "oanda", b.BrokerID())
}

func TestRouterMissingBroker(t *testing.T) {
	r := NewRouter()
	r.Register(NewMockBroker("binance"))

	_, err := r.Route("EUR_USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oanda")
}

func TestRouterGetByID(t *testing.T) {
	r := NewRouter()
	r.Register(NewMockBroker("ig"))

	b, err := r.GetByID("ig")
	require.NoError(t, err)
	assert.Equal(t, "ig", b.BrokerID())

	_, err = r.GetByID("nope")
	assert.Error(t, err)
}

func TestRouterAll(t *testing.T) {
	r := NewRouter()
	r.Register(NewMockBroker("binance"))
	r.Register(NewMockBroker("oanda"))
	assert.Len(t, r.All(), 2)
}
