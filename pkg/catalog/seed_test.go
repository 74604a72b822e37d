package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedFile_SubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_RPC_URL", "https://rpc.example.test")

	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	contents := `
chains:
  - slug: ETHEREUM
    chain_id: 1
    rpc_endpoint: ${TEST_RPC_URL}
    confirmations_required: 12
    is_active: true
assets:
  - chain_slug: ETHEREUM
    symbol: ETH
    decimals: 18
    is_native: true
    is_active: true
    price_usd: "3000.50"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	f, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if len(f.Chains) != 1 || f.Chains[0].RPCEndpoint != "https://rpc.example.test" {
		t.Fatalf("env var not substituted, got %+v", f.Chains)
	}
	if len(f.Assets) != 1 || f.Assets[0].Symbol != "ETH" {
		t.Fatalf("unexpected assets: %+v", f.Assets)
	}
}

func TestLoadSeedFile_LeavesUnsetVarUnsubstituted(t *testing.T) {
	os.Unsetenv("TEST_UNSET_RPC_URL")

	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, []byte("chains:\n  - slug: ETHEREUM\n    rpc_endpoint: ${TEST_UNSET_RPC_URL}\n"), 0o600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	f, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if f.Chains[0].RPCEndpoint != "${TEST_UNSET_RPC_URL}" {
		t.Fatalf("expected unset var left as-is, got %q", f.Chains[0].RPCEndpoint)
	}
}
