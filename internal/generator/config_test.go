package generator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := Config{Blocks: 10, OutputDir: "out"}.withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Seed == 0 {
		t.Error("seed not initialized")
	}
	if cfg.FeeRate != feePerKB || cfg.DustThreshold != dustThreshold {
		t.Errorf("fee defaults: rate=%v dust=%v", cfg.FeeRate, cfg.DustThreshold)
	}
	if len(cfg.Tiers) != 4 || cfg.Tiers[0].Name != TierDefault {
		t.Fatalf("tiers = %+v", cfg.Tiers)
	}
	for _, tier := range cfg.Tiers {
		if tier.PatternWeights == nil {
			t.Errorf("tier %s has no pattern weights", tier.Name)
		}
	}
	want := []string{"conf", "manifest", "wallets"}
	if len(cfg.Outputs) != len(want) {
		t.Fatalf("outputs = %v, want %v", cfg.Outputs, want)
	}
	for i, name := range want {
		if cfg.Outputs[i] != name {
			t.Errorf("outputs[%d] = %s, want %s", i, cfg.Outputs[i], name)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr string
	}{
		{
			cfg:     Config{OutputDir: "out"},
			wantErr: "block count",
		},
		{
			cfg:     Config{Blocks: 10},
			wantErr: "output directory",
		},
		{
			cfg: Config{Blocks: 10, OutputDir: "out",
				Tiers: []TierConfig{{Name: TierLight, TxProbability: 0.1, AddressCount: 5}}},
			wantErr: "must be configured first",
		},
		{
			cfg: Config{Blocks: 10, OutputDir: "out",
				Tiers: []TierConfig{{Name: TierDefault, TxProbability: 1.5, AddressCount: 5}}},
			wantErr: "out of range",
		},
		{
			cfg: Config{Blocks: 10, OutputDir: "out",
				Tiers: []TierConfig{{Name: TierDefault, TxProbability: 0.5}}},
			wantErr: "address count",
		},
		{
			cfg: Config{Blocks: 10, OutputDir: "out",
				Tiers: []TierConfig{{Name: TierDefault, TxProbability: 0.5, AddressCount: 5,
					PatternWeights: map[string]int{"bogus": 1}}}},
			wantErr: "unknown pattern",
		},
	}
	for i, test := range tests {
		_, err := test.cfg.withDefaults()
		if err == nil {
			t.Errorf("test %d: no error, want %q", i, test.wantErr)
			continue
		}
		if !strings.Contains(err.Error(), test.wantErr) {
			t.Errorf("test %d: error %q does not mention %q", i, err, test.wantErr)
		}
	}
}

func TestLoadTierOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `
tiers:
  heavy:
    tx_probability: 0.25
    addresses: 30
  light:
    refund_amount: 5.0
    funding_outputs: 8
  normal:
    patterns:
      single: 1
`
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	var cfg Config
	if err := cfg.LoadTierOverrides(file); err != nil {
		t.Fatal(err)
	}
	heavy := cfg.tier(TierHeavy)
	if heavy.TxProbability != 0.25 || heavy.AddressCount != 30 {
		t.Errorf("heavy = %+v", heavy)
	}
	if heavy.FundingOutputs != 60 {
		t.Errorf("untouched heavy funding outputs changed: %d", heavy.FundingOutputs)
	}
	light := cfg.tier(TierLight)
	if light.RefundAmount != 5*btcutil.SatoshiPerBitcoin {
		t.Errorf("light refund = %v, want 5 DASH", light.RefundAmount)
	}
	if light.FundingOutputs != 8 {
		t.Errorf("light funding outputs = %d", light.FundingOutputs)
	}
	normal := cfg.tier(TierNormal)
	if len(normal.PatternWeights) != 1 || normal.PatternWeights["single"] != 1 {
		t.Errorf("normal patterns = %v", normal.PatternWeights)
	}
}

func TestLoadTierOverridesUnknownTier(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tiers.yaml")
	if err := os.WriteFile(file, []byte("tiers:\n  whale:\n    addresses: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var cfg Config
	err := cfg.LoadTierOverrides(file)
	if err == nil || !strings.Contains(err.Error(), "unknown tier") {
		t.Fatalf("err = %v, want unknown tier", err)
	}
}

func TestLoadTierOverridesMissingFile(t *testing.T) {
	var cfg Config
	if err := cfg.LoadTierOverrides(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("no error for missing file")
	}
}
