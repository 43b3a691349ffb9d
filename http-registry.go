package ehttpchain

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/RassulYunussov/ehttpchain/config"
)

// Registry hands out one pipeline per client name, configured from the loaded policies.
// Pipelines are built on first use and kept, so each name owns a single circuit breaker.
type Registry struct {
	mu        sync.Mutex
	cfg       *config.Config
	transport http.RoundTripper
	opts      []Option
	pipelines map[string]*Pipeline
}

// NewRegistry prepares pipelines over transport; opts are applied to every pipeline
// after the configured policies.
func NewRegistry(cfg *config.Config, transport http.RoundTripper, opts ...Option) *Registry {
	return &Registry{
		cfg:       cfg,
		transport: transport,
		opts:      opts,
		pipelines: make(map[string]*Pipeline),
	}
}

func (r *Registry) Get(name string) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pipelines[name]; ok {
		return p, nil
	}
	policies, err := r.cfg.For(name)
	if err != nil {
		return nil, fmt.Errorf("resolving policies of http client %s: %w", name, err)
	}
	opts := append([]Option{WithPolicies(policies)}, r.opts...)
	p, err := Create(name, r.transport, opts...)
	if err != nil {
		return nil, err
	}
	r.pipelines[name] = p
	return p, nil
}
