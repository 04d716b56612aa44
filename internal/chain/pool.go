package chain

import (
	"net/http"
	"sync"
	"time"

	"github.com/calebmorten/anchorline/pkg/config"
	"github.com/calebmorten/anchorline/pkg/logger"
)

const defaultRequestTimeout = 10 * time.Second

// newPooledClient builds an HTTP client with a shared connection pool sized
// for a worker hammering one RPC endpoint.
func newPooledClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 50,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type providerKey struct {
	endpoint string
	network  string
}

// Factory lazily constructs and caches providers keyed by endpoint and
// network, reusing one pooled HTTP client across all of them.
type Factory struct {
	mu     sync.Mutex
	cache  map[providerKey]*EtherlinkProvider
	client *http.Client
	logg   *logger.Logger
}

// NewFactory builds a provider factory around a single pooled client.
func NewFactory(timeout time.Duration, logg *logger.Logger) *Factory {
	return &Factory{
		cache:  make(map[providerKey]*EtherlinkProvider),
		client: newPooledClient(timeout),
		logg:   logg,
	}
}

// Provider returns the cached provider for the endpoint/network pair,
// constructing it on first use.
func (f *Factory) Provider(cfg config.ProviderConfig) (*EtherlinkProvider, error) {
	key := providerKey{endpoint: cfg.Endpoint, network: cfg.Network}

	f.mu.Lock()
	defer f.mu.Unlock()
	if provider, ok := f.cache[key]; ok {
		return provider, nil
	}
	provider, err := NewEtherlinkProvider(cfg, f.client, f.logg)
	if err != nil {
		return nil, err
	}
	f.cache[key] = provider
	return provider, nil
}
