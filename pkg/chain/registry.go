package chain

import (
	"context"
	"fmt"

	"github.com/cryptostake/platform/pkg/config"
)

// Registry holds one dialed Client per configured chain slug, keyed also by
// numeric chain ID for callers that only have a chains.chain_id value from
// the database.
type Registry struct {
	bySlug    map[string]*Client
	byChainID map[int64]*Client
}

// DialAll connects to every chain configured in cfg.Chains. It fails closed:
// if any configured chain cannot be dialed, already-opened clients are
// closed and the error is returned, since starting with a partial chain
// set would silently break deposit scanning or payouts for the missing one.
func DialAll(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := &Registry{bySlug: make(map[string]*Client), byChainID: make(map[int64]*Client)}
	for slug, cc := range cfg.Chains {
		c, err := Dial(ctx, slug, cc)
		if err != nil {
			r.CloseAll()
			return nil, fmt.Errorf("chain registry: %w", err)
		}
		r.bySlug[slug] = c
		r.byChainID[c.ChainID] = c
	}
	return r, nil
}

// BySlug returns the client for a configured chain slug (e.g. "ETHEREUM").
func (r *Registry) BySlug(slug string) (*Client, bool) {
	c, ok := r.bySlug[slug]
	return c, ok
}

// ByChainID returns the client for a numeric EVM chain ID.
func (r *Registry) ByChainID(id int64) (*Client, bool) {
	c, ok := r.byChainID[id]
	return c, ok
}

// All returns every dialed client.
func (r *Registry) All() []*Client {
	out := make([]*Client, 0, len(r.bySlug))
	for _, c := range r.bySlug {
		out = append(out, c)
	}
	return out
}

// CloseAll releases every client's RPC connection.
func (r *Registry) CloseAll() {
	for _, c := range r.bySlug {
		c.Close()
	}
}
