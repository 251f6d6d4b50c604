package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven/mocks"
)

func newTestProvider(t *testing.T, servers string) (*ClientProvider, *mocks.MockRemoteStoreFactory, *mocks.MockClientCache) {
	t.Helper()
	factory := &mocks.MockRemoteStoreFactory{}
	cache := mocks.NewMockClientCache()
	p, err := NewClientProvider(ClientProviderConfig{
		Factory:   factory,
		Cache:     cache,
		APIKey:    "admin-key",
		SearchKey: "search-key",
		Servers:   servers,
	})
	require.NoError(t, err)
	return p, factory, cache
}

func TestClientProvider_ReusesClients(t *testing.T) {
	p, factory, cache := newTestProvider(t, "https://ts.example.com:8108")

	first, err := p.Default()
	require.NoError(t, err)
	second, err := p.Default()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, factory.CallCount())
	assert.Len(t, cache.Keys(), 1)
}

func TestClientProvider_DistinctParamsDistinctClients(t *testing.T) {
	p, factory, _ := newTestProvider(t, "https://ts.example.com:8108")

	admin, err := p.Default()
	require.NoError(t, err)
	search, err := p.SearchOnly()
	require.NoError(t, err)

	assert.NotSame(t, admin, search)
	assert.Equal(t, 2, factory.CallCount())
	assert.Equal(t, "search-key", factory.Calls[1].APIKey)
}

func TestClientProvider_AllNodesKept(t *testing.T) {
	p, factory, _ := newTestProvider(t, "https://a.example.com,https://b.example.com:8443,http://c.example.com")

	_, err := p.Default()
	require.NoError(t, err)

	nodes := factory.Calls[0].Nodes
	require.Len(t, nodes, 3)
	assert.Equal(t, 443, nodes[0].Port)
	assert.Equal(t, 8443, nodes[1].Port)
	assert.Equal(t, 80, nodes[2].Port)
	assert.Equal(t, DefaultConnectionTimeout, factory.Calls[0].ConnectionTimeout)
}

func TestClientProvider_NoNodes(t *testing.T) {
	p, factory, _ := newTestProvider(t, "")

	_, err := p.Default()
	var cfgErr *domain.InvalidServerConfigError
	require.True(t, errors.As(err, &cfgErr), "expected InvalidServerConfigError, got %v", err)
	assert.Equal(t, 0, factory.CallCount())
}

func TestClientProvider_ExplicitNodes(t *testing.T) {
	p, factory, _ := newTestProvider(t, "")

	_, err := p.Client(domain.ConnectionParams{
		Nodes: []domain.Node{{Protocol: "http", Host: "localhost", Port: 8108}},
	})
	require.NoError(t, err)
	assert.Equal(t, "admin-key", factory.Calls[0].APIKey)
}

func TestNewClientProvider_InvalidServers(t *testing.T) {
	_, err := NewClientProvider(ClientProviderConfig{
		Factory: &mocks.MockRemoteStoreFactory{},
		Cache:   mocks.NewMockClientCache(),
		Servers: "ts.example.com:8108",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClientProvider_FactoryError(t *testing.T) {
	factory := &mocks.MockRemoteStoreFactory{Err: errors.New("boom")}
	p, err := NewClientProvider(ClientProviderConfig{
		Factory: factory,
		Cache:   mocks.NewMockClientCache(),
		Servers: "http://localhost:8108",
	})
	require.NoError(t, err)

	_, err = p.Default()
	assert.Error(t, err)
}

func TestConnectionKey_Stable(t *testing.T) {
	params := domain.ConnectionParams{
		APIKey:            "k",
		Nodes:             []domain.Node{{Protocol: "https", Host: "h", Port: 443}},
		ConnectionTimeout: 2 * time.Second,
	}
	a, err := ConnectionKey(params)
	require.NoError(t, err)
	b, err := ConnectionKey(params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	params.APIKey = "other"
	c, err := ConnectionKey(params)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
