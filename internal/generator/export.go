package generator

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

var outputFunctions = map[string]func(*Generator, context.Context) error{
	"wallets":  (*Generator).writeWallets,
	"manifest": (*Generator).writeManifest,
	"conf":     (*Generator).writeNodeConf,
}

func outputFunctionNames() []string {
	names := make([]string, 0, len(outputFunctions))
	for name := range outputFunctions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// export writes the enabled outputs into a freshly created output
// directory. It only runs after the chain reached the target height, so a
// failed run never leaves wallet files behind.
func (g *Generator) export(ctx context.Context) error {
	if err := os.RemoveAll(g.cfg.OutputDir); err != nil {
		return errors.Wrap(err, "clearing output directory")
	}
	if err := os.MkdirAll(g.cfg.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	for _, name := range g.cfg.Outputs {
		f := outputFunctions[name]
		if f == nil {
			return errors.Errorf("unknown output %q", name)
		}
		g.log.Info("writing output", "name", name)
		if err := f(g, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) writeJSON(name string, obj any) error {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(g.cfg.OutputDir, name)
	return os.WriteFile(path, data, 0644)
}

// WalletExport is the per-tier JSON document consumed by light client
// tests. All amounts are in duffs.
type WalletExport struct {
	WalletName       string         `json:"wallet_name"`
	Tier             string         `json:"tier"`
	Mnemonic         string         `json:"mnemonic"`
	Addresses        []AddressInfo  `json:"addresses"`
	Balance          btcutil.Amount `json:"balance"`
	TransactionCount int            `json:"transaction_count"`
	UTXOCount        int            `json:"utxo_count"`
	Transactions     []WalletTx     `json:"transactions"`
	UTXOs            []Unspent      `json:"utxos"`
}

// writeWallets queries each tier wallet's final state from the node and
// writes one JSON file per tier under wallets/.
func (g *Generator) writeWallets(ctx context.Context) error {
	dir := filepath.Join(g.cfg.OutputDir, "wallets")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, t := range g.tiers {
		name := t.name()
		balance, err := g.backend.Balance(ctx, name)
		if err != nil {
			return errors.Wrapf(err, "wallet %s balance", name)
		}
		utxos, err := g.backend.ListUnspent(ctx, name, 1)
		if err != nil {
			return errors.Wrapf(err, "wallet %s unspent", name)
		}
		txs, err := g.backend.ListTransactions(ctx, name, 10000)
		if err != nil {
			return errors.Wrapf(err, "wallet %s transactions", name)
		}
		export := WalletExport{
			WalletName:       name,
			Tier:             name,
			Mnemonic:         t.mnemonic,
			Addresses:        t.addresses,
			Balance:          balance,
			TransactionCount: len(txs),
			UTXOCount:        len(utxos),
			Transactions:     txs,
			UTXOs:            utxos,
		}
		data, err := json.MarshalIndent(&export, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		g.log.Info("wrote wallet export", "tier", name,
			"addresses", len(t.addresses), "utxos", len(utxos), "balance", balance)
	}
	return nil
}

// writeManifest records run statistics and per-pattern transaction info.
func (g *Generator) writeManifest(context.Context) error {
	patterns := make(map[string]any, len(g.patterns))
	for _, inst := range g.patterns {
		patterns[inst.name] = inst.txInfo()
	}
	manifest := struct {
		Height   int            `json:"height"`
		Stats    Stats          `json:"stats"`
		Patterns map[string]any `json:"patterns"`
	}{
		Height:   g.height,
		Stats:    g.stats,
		Patterns: patterns,
	}
	return g.writeJSON("manifest.json", &manifest)
}

// writeNodeConf writes a dash.conf so the exported directory can be used
// as a -datadir directly.
func (g *Generator) writeNodeConf(context.Context) error {
	conf := "regtest=1\nserver=1\nfallbackfee=0.00001\n"
	path := filepath.Join(g.cfg.OutputDir, "dash.conf")
	return os.WriteFile(path, []byte(conf), 0644)
}

// CopyChainData copies the node's regtest subtree (blocks, chain state,
// wallet databases) from its data directory into the output directory.
// The node must be stopped first so the databases are consistent.
func CopyChainData(nodeDataDir, outputDir string) error {
	src := filepath.Join(nodeDataDir, "regtest")
	if _, err := os.Stat(src); err != nil {
		return errors.Wrap(err, "node chain data")
	}
	dst := filepath.Join(outputDir, "regtest")
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			// Sockets and pid files are of no use in the fixture.
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
