package generator_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/xdustinface/regtest-blockchain/internal/fakes"
	"github.com/xdustinface/regtest-blockchain/internal/generator"
	"github.com/xdustinface/regtest-blockchain/internal/hdwallet"
)

// testBlocks is comfortably above the setup budget of maturity mining
// plus tier funding, leaving enough rounds for all patterns to fire.
const testBlocks = 200

func runGenerator(t *testing.T, cfg generator.Config, hooks *fakes.BackendHooks) (*fakes.Backend, error) {
	t.Helper()
	backend := fakes.NewBackend(hooks)
	g, err := generator.New(cfg, backend)
	require.NoError(t, err)
	return backend, g.Run(context.Background())
}

type manifest struct {
	Height   int                        `json:"height"`
	Stats    generator.Stats            `json:"stats"`
	Patterns map[string]json.RawMessage `json:"patterns"`
}

func readManifest(t *testing.T, outdir string) manifest {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outdir, "manifest.json"))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func readWalletExport(t *testing.T, outdir, tier string) generator.WalletExport {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outdir, "wallets", tier+".json"))
	require.NoError(t, err)
	var export generator.WalletExport
	require.NoError(t, json.Unmarshal(data, &export))
	return export
}

func TestRun(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	cfg := generator.Config{Blocks: testBlocks, OutputDir: outdir, Seed: 12345}
	backend, err := runGenerator(t, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, testBlocks, backend.Height())

	m := readManifest(t, outdir)
	require.Equal(t, testBlocks, m.Height)
	require.True(t, m.Stats.Funded)
	require.Greater(t, m.Stats.Transactions, 0)

	// Every pattern must show up in the fixture at least once.
	for _, name := range []string{"single", "multi", "transfer", "dust"} {
		var txs []struct {
			TxID    string         `json:"txid"`
			Outputs int            `json:"outputs"`
			Amount  btcutil.Amount `json:"amount"`
		}
		require.NoError(t, json.Unmarshal(m.Patterns[name], &txs), name)
		require.NotEmpty(t, txs, "pattern %s produced no transactions", name)
		if name == "dust" {
			for _, tx := range txs {
				require.EqualValues(t, 546*tx.Outputs, tx.Amount, "dust tx %s", tx.TxID)
			}
		}
	}

	if _, err := os.Stat(filepath.Join(outdir, "dash.conf")); err != nil {
		t.Error("dash.conf not written:", err)
	}

	addressCounts := map[string]int{"default": 10, "light": 20, "normal": 60, "heavy": 120}
	for tier, wantAddrs := range addressCounts {
		export := readWalletExport(t, outdir, tier)
		require.Equal(t, tier, export.WalletName)
		require.NotEmpty(t, export.Mnemonic, "tier %s", tier)
		require.Len(t, export.Addresses, wantAddrs, "tier %s", tier)
		for _, info := range export.Addresses {
			require.NotEmpty(t, info.PrivateKey, "tier %s address %s", tier, info.Address)
		}
		require.Equal(t, len(export.UTXOs), export.UTXOCount, "tier %s", tier)
		require.Equal(t, len(export.Transactions), export.TransactionCount, "tier %s", tier)

		// Each tier ends the run with funds to spend.
		require.NotEmpty(t, export.UTXOs, "tier %s has no unspent outputs", tier)
		var total btcutil.Amount
		for _, u := range export.UTXOs {
			total += u.Amount
		}
		require.Equal(t, total, export.Balance, "tier %s", tier)
	}
}

func TestRunAddressesDerivable(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	cfg := generator.Config{Blocks: testBlocks, OutputDir: outdir, Seed: 4}
	_, err := runGenerator(t, cfg, nil)
	require.NoError(t, err)

	export := readWalletExport(t, outdir, "light")
	root, err := hdwallet.RootKey(export.Mnemonic)
	require.NoError(t, err)
	for _, info := range export.Addresses {
		derived, err := hdwallet.Address(root, info.HDKeyPath)
		require.NoError(t, err, info.HDKeyPath)
		require.Equal(t, info.Address, derived, "path %s", info.HDKeyPath)

		wif, err := hdwallet.PrivateKeyWIF(root, info.HDKeyPath)
		require.NoError(t, err, info.HDKeyPath)
		require.Equal(t, wif, info.PrivateKey, "path %s", info.HDKeyPath)
	}
}

// TestRunTxInvariants checks properties the real node enforces: no
// outpoint is spent twice and no transaction pays the same address in two
// outputs.
func TestRunTxInvariants(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	cfg := generator.Config{Blocks: testBlocks, OutputDir: outdir, Seed: 777}
	backend, err := runGenerator(t, cfg, nil)
	require.NoError(t, err)

	spent := make(map[generator.Outpoint]string)
	for _, tx := range backend.Transactions() {
		for _, in := range tx.Inputs {
			if prev, ok := spent[in]; ok {
				t.Fatalf("outpoint %s spent by %s and again by:\n%s", in, prev, spew.Sdump(tx))
			}
			spent[in] = tx.TxID
		}
		addrs := make(map[string]bool)
		for _, out := range tx.Outputs {
			if addrs[out.Address] {
				t.Fatalf("duplicate output address in:\n%s", spew.Sdump(tx))
			}
			addrs[out.Address] = true
		}
	}
}

// TestRunShortChain requests fewer blocks than wallet funding needs. The
// run still reaches the exact target height and exports (empty) wallets.
func TestRunShortChain(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	cfg := generator.Config{Blocks: 10, OutputDir: outdir, Seed: 1}
	backend, err := runGenerator(t, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 10, backend.Height())

	m := readManifest(t, outdir)
	require.Equal(t, 10, m.Height)
	require.False(t, m.Stats.Funded)
	require.Zero(t, m.Stats.Transactions)

	export := readWalletExport(t, outdir, "heavy")
	require.Len(t, export.Addresses, 120)
	require.Empty(t, export.UTXOs)
	require.Zero(t, export.Balance)
}

// TestRunRefunds starts a tier with no funding at all, so its very first
// action must be preceded by a refund from the default wallet.
func TestRunRefunds(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	cfg := generator.Config{
		Blocks:    150,
		OutputDir: outdir,
		Seed:      21,
		Tiers: []generator.TierConfig{
			{Name: generator.TierDefault, TxProbability: 0, AddressCount: 10},
			{Name: generator.TierLight, TxProbability: 1, AddressCount: 5,
				FundingOutputs: 0, RefundAmount: 2 * btcutil.SatoshiPerBitcoin,
				PatternWeights: map[string]int{"single": 1}},
		},
	}
	backend, err := runGenerator(t, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 150, backend.Height())

	m := readManifest(t, outdir)
	require.True(t, m.Stats.Funded)
	require.Greater(t, m.Stats.Refunds, 0)

	export := readWalletExport(t, outdir, "light")
	require.NotEmpty(t, export.UTXOs, "refunded tier ends without spendable outputs")
}

// TestRunRefundFailure sets a refund amount the default wallet can never
// cover. The run must abort instead of continuing with a starved tier.
func TestRunRefundFailure(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	cfg := generator.Config{
		Blocks:    150,
		OutputDir: outdir,
		Seed:      22,
		Tiers: []generator.TierConfig{
			{Name: generator.TierDefault, TxProbability: 0, AddressCount: 10},
			{Name: generator.TierLight, TxProbability: 1, AddressCount: 5,
				FundingOutputs: 0, RefundAmount: btcutil.Amount(1e15),
				PatternWeights: map[string]int{"single": 1}},
		},
	}
	_, err := runGenerator(t, cfg, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, generator.ErrInsufficientFunds)

	var stepErr *generator.StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "refund", stepErr.Step)
	require.Equal(t, "light", stepErr.Tier)
	if _, statErr := os.Stat(outdir); !os.IsNotExist(statErr) {
		t.Error("output directory exists after failed run")
	}
}

func TestRunDeterministic(t *testing.T) {
	run := func(dir string) []fakes.TxRecord {
		cfg := generator.Config{Blocks: testBlocks, OutputDir: dir, Seed: 7}
		backend, err := runGenerator(t, cfg, nil)
		require.NoError(t, err)
		return backend.Transactions()
	}
	first := run(filepath.Join(t.TempDir(), "a"))
	second := run(filepath.Join(t.TempDir(), "b"))

	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].TxID, second[i].TxID, "transaction %d", i)
	}
}

// TestRunBackendFailure aborts the run mid-way and checks that no partial
// fixture is left behind.
func TestRunBackendFailure(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "fixture")
	hooks := &fakes.BackendHooks{
		GenerateToAddress: func(n int, address string) ([]string, error) {
			return nil, errors.New("node gone")
		},
	}
	cfg := generator.Config{Blocks: testBlocks, OutputDir: outdir, Seed: 2}
	_, err := runGenerator(t, cfg, hooks)
	require.Error(t, err)

	var stepErr *generator.StepError
	require.ErrorAs(t, err, &stepErr)
	if _, statErr := os.Stat(outdir); !os.IsNotExist(statErr) {
		t.Error("output directory exists after failed run")
	}
}

func TestRunHeightMismatch(t *testing.T) {
	hooks := &fakes.BackendHooks{
		BlockCount: func() (int, error) { return 999, nil },
	}
	cfg := generator.Config{Blocks: 10, OutputDir: filepath.Join(t.TempDir(), "out"), Seed: 3}
	_, err := runGenerator(t, cfg, hooks)
	require.Error(t, err)

	var stepErr *generator.StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "height check", stepErr.Step)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := generator.New(generator.Config{OutputDir: "out"}, fakes.NewBackend(nil))
	require.Error(t, err)
}
