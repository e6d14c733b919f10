package generator

import (
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Well-known tier wallet names. The default wallet doubles as the miner
// and funding source for the other three.
const (
	TierDefault = "default"
	TierLight   = "light"
	TierNormal  = "normal"
	TierHeavy   = "heavy"
)

const (
	// coinbaseMaturity is the number of confirmations a coinbase output
	// needs before it can be spent.
	coinbaseMaturity = 100

	// dustThreshold is the default for Config.DustThreshold, the
	// smallest output value the node relays. The dust pattern creates
	// outputs exactly at this value.
	dustThreshold = btcutil.Amount(546)

	// feePerKB is the default for Config.FeeRate, matching the
	// -fallbackfee the node is started with.
	feePerKB = btcutil.Amount(1000)
)

// TierConfig describes the activity profile of one wallet tier.
type TierConfig struct {
	Name string

	// TxProbability is the per-block chance that the tier emits a
	// transaction. Heavy acts nearly every block, light rarely.
	TxProbability float64

	// AddressCount is how many HD addresses are derived up front.
	AddressCount int

	// FundingOutputs is the number of seed payments the tier receives
	// from the default wallet during setup.
	FundingOutputs int

	// RefundAmount is sent from the default wallet whenever the tier's
	// spendable set drops below the floor.
	RefundAmount btcutil.Amount

	// PatternWeights selects among transaction patterns when the tier
	// acts. Keys are pattern names, zero weight disables a pattern.
	PatternWeights map[string]int
}

// Config is the configuration of the fixture generator.
type Config struct {
	Blocks    int    // target chain height
	OutputDir string // where wallet exports and chain data end up
	Seed      int64  // random source seed, 0 means time-based

	FeeRate       btcutil.Amount // duffs per estimated kB, 0 uses feePerKB
	DustThreshold btcutil.Amount // smallest output value, 0 uses dustThreshold

	Tiers   []TierConfig // default tier must come first
	Outputs []string     // enabled output writers, nil means all
}

func defaultPatternWeights() map[string]int {
	return map[string]int{
		"single":   4,
		"multi":    3,
		"transfer": 2,
		"dust":     1,
	}
}

func defaultTiers() []TierConfig {
	return []TierConfig{
		{Name: TierDefault, TxProbability: 0.35, AddressCount: 10},
		{Name: TierLight, TxProbability: 0.15, AddressCount: 20, FundingOutputs: 20, RefundAmount: 20 * btcutil.SatoshiPerBitcoin},
		{Name: TierNormal, TxProbability: 0.50, AddressCount: 60, FundingOutputs: 40, RefundAmount: 40 * btcutil.SatoshiPerBitcoin},
		{Name: TierHeavy, TxProbability: 0.90, AddressCount: 120, FundingOutputs: 60, RefundAmount: 60 * btcutil.SatoshiPerBitcoin},
	}
}

func (cfg Config) withDefaults() (Config, error) {
	if cfg.Blocks <= 0 {
		return cfg, errors.New("target block count must be > 0")
	}
	if cfg.OutputDir == "" {
		return cfg, errors.New("output directory not set")
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = feePerKB
	}
	if cfg.DustThreshold == 0 {
		cfg.DustThreshold = dustThreshold
	}
	if cfg.Tiers == nil {
		cfg.Tiers = defaultTiers()
	}
	if len(cfg.Tiers) == 0 || cfg.Tiers[0].Name != TierDefault {
		return cfg, errors.Errorf("tier %q must be configured first", TierDefault)
	}
	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]
		if t.TxProbability < 0 || t.TxProbability > 1 {
			return cfg, errors.Errorf("tier %s: tx probability %v out of range", t.Name, t.TxProbability)
		}
		if t.AddressCount <= 0 {
			return cfg, errors.Errorf("tier %s: address count must be > 0", t.Name)
		}
		if t.PatternWeights == nil {
			t.PatternWeights = defaultPatternWeights()
		}
		for name := range t.PatternWeights {
			if patternRegistry[name] == nil {
				return cfg, errors.Errorf("tier %s: unknown pattern %q", t.Name, name)
			}
		}
	}
	if cfg.Outputs == nil {
		cfg.Outputs = outputFunctionNames()
	}
	return cfg, nil
}

func (cfg *Config) tier(name string) *TierConfig {
	for i := range cfg.Tiers {
		if cfg.Tiers[i].Name == name {
			return &cfg.Tiers[i]
		}
	}
	return nil
}

// tierOverride is the YAML shape of a single tier's override entry.
// Amounts are given in DASH, not duffs.
type tierOverride struct {
	TxProbability  *float64       `yaml:"tx_probability"`
	Addresses      *int           `yaml:"addresses"`
	FundingOutputs *int           `yaml:"funding_outputs"`
	RefundAmount   *float64       `yaml:"refund_amount"`
	Patterns       map[string]int `yaml:"patterns"`
}

type overridesFile struct {
	Tiers map[string]tierOverride `yaml:"tiers"`
}

// LoadTierOverrides applies per-tier settings from a YAML file on top of
// the built-in tier configuration.
func (cfg *Config) LoadTierOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading tier config")
	}
	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.Wrapf(err, "parsing tier config %s", path)
	}
	if cfg.Tiers == nil {
		cfg.Tiers = defaultTiers()
	}
	for name, ov := range file.Tiers {
		t := cfg.tier(name)
		if t == nil {
			return errors.Errorf("tier config %s: unknown tier %q", path, name)
		}
		if ov.TxProbability != nil {
			t.TxProbability = *ov.TxProbability
		}
		if ov.Addresses != nil {
			t.AddressCount = *ov.Addresses
		}
		if ov.FundingOutputs != nil {
			t.FundingOutputs = *ov.FundingOutputs
		}
		if ov.RefundAmount != nil {
			amt, err := btcutil.NewAmount(*ov.RefundAmount)
			if err != nil {
				return errors.Wrapf(err, "tier config %s: tier %s refund amount", path, name)
			}
			t.RefundAmount = amt
		}
		if ov.Patterns != nil {
			t.PatternWeights = ov.Patterns
		}
	}
	return nil
}
