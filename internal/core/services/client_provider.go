package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// DefaultConnectionTimeout applies when no timeout is configured.
const DefaultConnectionTimeout = 2 * time.Second

// ClientProvider hands out remote store clients, reusing one per distinct
// connection configuration.
type ClientProvider struct {
	factory   driven.RemoteStoreFactory
	cache     driven.ClientCache
	apiKey    string
	searchKey string
	nodes     []domain.Node
	timeout   time.Duration
	logger    *slog.Logger
}

// ClientProviderConfig holds configuration for the provider.
type ClientProviderConfig struct {
	Factory driven.RemoteStoreFactory
	Cache   driven.ClientCache
	APIKey  string
	// SearchKey is an optional search-only key
	SearchKey string
	// Servers is a comma separated list of scheme://host:port[/path]
	Servers           string
	ConnectionTimeout time.Duration
	Logger            *slog.Logger
}

// NewClientProvider creates a ClientProvider. It fails when Servers is malformed.
// An empty Servers setting is accepted; requesting a client then fails.
func NewClientProvider(cfg ClientProviderConfig) (*ClientProvider, error) {
	if cfg.Factory == nil {
		return nil, errors.New("remote store factory is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("client cache is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nodes, err := domain.ParseServers(cfg.Servers)
	if err != nil {
		return nil, err
	}
	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = DefaultConnectionTimeout
	}
	return &ClientProvider{
		factory:   cfg.Factory,
		cache:     cfg.Cache,
		apiKey:    cfg.APIKey,
		searchKey: cfg.SearchKey,
		nodes:     nodes,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Client returns the client for params. Missing nodes, key or timeout fall back
// to the configured values.
func (p *ClientProvider) Client(params domain.ConnectionParams) (driven.RemoteStore, error) {
	if len(params.Nodes) == 0 {
		params.Nodes = p.nodes
	}
	if params.APIKey == "" {
		params.APIKey = p.apiKey
	}
	if params.ConnectionTimeout <= 0 {
		params.ConnectionTimeout = p.timeout
	}
	if len(params.Nodes) == 0 {
		return nil, &domain.InvalidServerConfigError{Reason: "no servers configured"}
	}

	key, err := ConnectionKey(params)
	if err != nil {
		return nil, err
	}
	if client, ok := p.cache.Get(key); ok {
		return client, nil
	}

	client, err := p.factory.New(params)
	if err != nil {
		return nil, fmt.Errorf("create remote client: %w", err)
	}
	p.cache.Put(key, client)
	p.logger.Debug("created remote client", "nodes", len(params.Nodes))
	return client, nil
}

// Default returns the client for the configured admin key and nodes.
func (p *ClientProvider) Default() (driven.RemoteStore, error) {
	return p.Client(domain.ConnectionParams{})
}

// SearchOnly returns a client bound to the search-only key.
func (p *ClientProvider) SearchOnly() (driven.RemoteStore, error) {
	if p.searchKey == "" {
		return nil, fmt.Errorf("%w: no search key configured", domain.ErrInvalidInput)
	}
	return p.Client(domain.ConnectionParams{APIKey: p.searchKey})
}

// SearchKey returns the configured search-only key.
func (p *ClientProvider) SearchKey() string {
	return p.searchKey
}

// ConnectionKey fingerprints connection parameters. Encoding a map keeps the
// top-level keys sorted so equal parameters always hash the same.
func ConnectionKey(params domain.ConnectionParams) (string, error) {
	canonical := map[string]any{
		"api_key":            params.APIKey,
		"connection_timeout": params.ConnectionTimeout.Seconds(),
		"nodes":              params.Nodes,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encode connection params: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
