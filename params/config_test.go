package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domain.Name != "zkLite Order Book" || cfg.Domain.Version != "v1" {
		t.Fatalf("domain = %+v", cfg.Domain)
	}
	if cfg.Node.QueueSize != 1024 {
		t.Fatalf("queue size = %d", cfg.Node.QueueSize)
	}
	if cfg.Admin != common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266") {
		t.Fatalf("admin = %s", cfg.Admin.Hex())
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.env")
	content := "DOMAIN_CHAIN_ID=31337\n" +
		"NODE_DEV_FAUCET=true\n" +
		"KAFKA_BROKERS=k1:9092,k2:9092\n" +
		"GENESIS_PAIRS=0x00000000000000000000000000000000000000b0:0x00000000000000000000000000000000000000c0:6:1000000:5000000:30:10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"DOMAIN_CHAIN_ID", "NODE_DEV_FAUCET", "KAFKA_BROKERS", "GENESIS_PAIRS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domain.ChainID != 31337 || !cfg.Node.DevFaucet {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}

	pairs, err := cfg.Pairs()
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs", len(pairs))
	}
	p := pairs[0]
	if p.PriceDecimals != 6 || p.TakerFeeBps != 30 || p.MakerFeeBps != 10 {
		t.Fatalf("pair = %+v", p)
	}
	if !p.MinExecutableQuote.Eq(uint256.NewInt(1_000_000)) {
		t.Fatalf("min quote = %s", p.MinExecutableQuote.Dec())
	}
}

func TestParsePairErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"too few fields", "0xb0:0xc0:6"},
		{"bad address", "nope:0x00000000000000000000000000000000000000c0:6:1:1:0:0"},
		{"same asset", "0x00000000000000000000000000000000000000c0:0x00000000000000000000000000000000000000c0:6:1:1:0:0"},
		{"fee too high", "0x00000000000000000000000000000000000000b0:0x00000000000000000000000000000000000000c0:6:1:1:10001:0"},
		{"bad amount", "0x00000000000000000000000000000000000000b0:0x00000000000000000000000000000000000000c0:6:x:1:0:0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parsePair(tt.raw); err == nil {
				t.Fatalf("expected error for %q", tt.raw)
			}
		})
	}
}
