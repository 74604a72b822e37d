package catalog

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cryptostake/platform/pkg/domain"
)

// SeedFile describes the chains and assets an operator wants a deployment
// to carry, as a YAML alternative to hand-written migration data. Paths
// are typically checked into an ops repo per environment (devnet.yaml,
// mainnet.yaml) rather than baked into the binary.
type SeedFile struct {
	Chains []ChainSeed `yaml:"chains"`
	Assets []AssetSeed `yaml:"assets"`
}

// ChainSeed is one entry of the "chains" list in a seed file.
type ChainSeed struct {
	Slug                  string `yaml:"slug"`
	ChainID               int64  `yaml:"chain_id"`
	RPCEndpoint           string `yaml:"rpc_endpoint"`
	ExplorerURL           string `yaml:"explorer_url"`
	ConfirmationsRequired int    `yaml:"confirmations_required"`
	IsActive              bool   `yaml:"is_active"`
}

// AssetSeed is one entry of the "assets" list, referencing its chain by
// slug rather than UUID since the chain row may not exist yet.
type AssetSeed struct {
	ChainSlug       string `yaml:"chain_slug"`
	Symbol          string `yaml:"symbol"`
	Decimals        int    `yaml:"decimals"`
	ContractAddress string `yaml:"contract_address"`
	IsNative        bool   `yaml:"is_native"`
	IsActive        bool   `yaml:"is_active"`
	PriceUsd        string `yaml:"price_usd"`
}

// envVarPattern matches ${VAR_NAME}, substituted before YAML parsing so an
// RPC endpoint or explorer URL can be injected per environment without a
// separate templating pass.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadSeedFile reads and parses a catalog seed YAML file, substituting
// ${VAR_NAME} references against the process environment first.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read seed file %s: %w", path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})

	var f SeedFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("catalog: parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Apply upserts every chain and asset described by the seed file. Assets
// are applied after all chains so chain_slug lookups always resolve.
func (r *Repository) Apply(ctx context.Context, f *SeedFile) (chains int, assets int, err error) {
	ids := make(map[string]domain.Chain, len(f.Chains))
	for _, c := range f.Chains {
		chain := domain.Chain{
			Slug:                  c.Slug,
			ChainID:               c.ChainID,
			RPCEndpoint:           c.RPCEndpoint,
			ExplorerURL:           c.ExplorerURL,
			ConfirmationsRequired: c.ConfirmationsRequired,
			IsActive:              c.IsActive,
		}
		id, err := r.UpsertChain(ctx, chain)
		if err != nil {
			return chains, assets, err
		}
		chain.ID = id
		ids[c.Slug] = chain
		chains++
	}

	for _, a := range f.Assets {
		chain, ok := ids[a.ChainSlug]
		if !ok {
			existing, err := r.ChainBySlug(ctx, a.ChainSlug)
			if err != nil {
				return chains, assets, fmt.Errorf("catalog: seed asset %s references unknown chain %s: %w", a.Symbol, a.ChainSlug, err)
			}
			chain = *existing
		}

		asset := domain.Asset{
			ChainID:  chain.ID,
			Symbol:   a.Symbol,
			Decimals: a.Decimals,
			IsNative: a.IsNative,
			IsActive: a.IsActive,
		}
		if a.ContractAddress != "" {
			addr := a.ContractAddress
			asset.ContractAddress = &addr
		}
		if a.PriceUsd != "" {
			price, err := parsePriceUsd(a.PriceUsd)
			if err != nil {
				return chains, assets, fmt.Errorf("catalog: seed asset %s price_usd: %w", a.Symbol, err)
			}
			asset.PriceUsd = price
		}
		if err := r.UpsertAsset(ctx, asset); err != nil {
			return chains, assets, err
		}
		assets++
	}

	return chains, assets, nil
}

func parsePriceUsd(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
