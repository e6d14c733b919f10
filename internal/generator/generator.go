package generator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"gopkg.in/inconshreveable/log15.v2"
)

const (
	// premineBlocks is mined beyond the maturity window during setup so
	// several coinbase outputs are spendable before funding starts.
	premineBlocks = 20

	// minTierBalance is the floor below which a tier gets refunded from
	// the default wallet before acting.
	minTierBalance = btcutil.Amount(btcutil.SatoshiPerBitcoin / 10)
)

// Stats counts what a run produced.
type Stats struct {
	Blocks       int   `json:"blocks"`
	Transactions int   `json:"transactions"`
	Refunds      int   `json:"refunds"`
	Seed         int64 `json:"seed"`
	Funded       bool  `json:"funded"`
}

// Generator drives the node through wallet setup, block production with
// patterned transactions, and the final fixture export.
type Generator struct {
	cfg     Config
	backend Backend
	log     log15.Logger
	rand    *rand.Rand

	runCtx context.Context // context of the active Run call

	tiers    []*tier // cfg.Tiers order, default first
	addrTier map[string]*tier

	patterns []*patternInstance
	fresh    map[string]bool // patterns that have not produced a tx yet

	minerAddr string
	height    int
	stats     Stats
}

// New creates a generator for the given backend. The configuration is
// validated and completed with defaults.
func New(cfg Config, backend Backend) (*Generator, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:      cfg,
		backend:  backend,
		log:      log15.New("module", "generator"),
		rand:     rand.New(rand.NewSource(cfg.Seed)),
		addrTier: make(map[string]*tier),
		fresh:    make(map[string]bool),
	}
	for _, tc := range cfg.Tiers {
		g.tiers = append(g.tiers, &tier{cfg: tc})
	}
	for name, new := range patternRegistry {
		g.patterns = append(g.patterns, &patternInstance{name: name, txPattern: new()})
		g.fresh[name] = true
	}
	sort.Slice(g.patterns, func(i, j int) bool {
		return g.patterns[i].name < g.patterns[j].name
	})
	g.stats.Seed = cfg.Seed
	return g, nil
}

func (g *Generator) defaultTier() *tier { return g.tiers[0] }

// Height returns the chain height reached so far.
func (g *Generator) Height() int { return g.height }

// Run produces the chain and writes the wallet exports. The node must be
// running; stopping it and archiving its data directory is the caller's
// business.
func (g *Generator) Run(ctx context.Context) error {
	g.runCtx = ctx
	defer func() { g.runCtx = nil }()

	g.log.Info("starting generation", "blocks", g.cfg.Blocks, "seed", g.cfg.Seed)
	if err := g.setupWallets(ctx); err != nil {
		return err
	}
	if err := g.fundTiers(ctx); err != nil {
		return err
	}
	if err := g.generateBlocks(ctx); err != nil {
		return err
	}
	if err := g.checkHeight(ctx); err != nil {
		return err
	}
	if err := g.export(ctx); err != nil {
		return stepError("export", "", err)
	}
	g.log.Info("generation complete", "height", g.height,
		"transactions", g.stats.Transactions, "refunds", g.stats.Refunds)
	return nil
}

// setupWallets creates the four tier wallets and derives their addresses.
func (g *Generator) setupWallets(ctx context.Context) error {
	for _, t := range g.tiers {
		name := t.name()
		g.log.Info("creating wallet", "tier", name, "addresses", t.cfg.AddressCount)
		if err := g.backend.CreateWallet(ctx, name); err != nil {
			return stepError("create wallet", name, err)
		}
		mnemonic, err := g.backend.WalletMnemonic(ctx, name)
		if err != nil {
			return stepError("dump hd info", name, err)
		}
		t.mnemonic = mnemonic

		for i := 0; i < t.cfg.AddressCount; i++ {
			label := fmt.Sprintf("%s_%03d", name, i)
			addr, err := g.backend.NewAddress(ctx, name, label)
			if err != nil {
				return stepError("derive address", name, err)
			}
			info, err := g.backend.AddressInfo(ctx, name, addr)
			if err != nil {
				return stepError("address info", name, err)
			}
			wif, err := g.backend.DumpPrivKey(ctx, name, addr)
			if err != nil {
				return stepError("dump private key", name, err)
			}
			info.Label = label
			info.PrivateKey = wif
			t.addresses = append(t.addresses, info)
			g.addrTier[addr] = t
		}
	}
	g.minerAddr = g.defaultTier().addresses[0].Address
	return nil
}

// setupBudget is the number of blocks consumed by maturity mining, UTXO
// splitting and tier funding.
func (g *Generator) setupBudget() int {
	return coinbaseMaturity + premineBlocks + 1 + (len(g.tiers) - 1)
}

// fundTiers mines past coinbase maturity, splits the default wallet into
// a working UTXO pool and seeds every tier with initial outputs. When the
// requested chain is shorter than the setup budget, the run degrades to
// mining empty blocks only.
func (g *Generator) fundTiers(ctx context.Context) error {
	if g.cfg.Blocks < g.setupBudget() {
		g.log.Warn("target below setup budget, generating empty blocks only",
			"blocks", g.cfg.Blocks, "budget", g.setupBudget())
		return nil
	}

	g.log.Info("mining maturity window", "blocks", coinbaseMaturity+premineBlocks)
	if err := g.mine(ctx, coinbaseMaturity+premineBlocks); err != nil {
		return stepError("mine maturity window", "", err)
	}

	// Split a few coinbase outputs into a pool of round outputs so the
	// default wallet can fund without chaining unconfirmed spends.
	def := g.defaultTier()
	if err := g.resyncDefault(ctx); err != nil {
		return err
	}
	// The miner address is left out so it stays free for change.
	split := make([]Output, 0, len(def.addresses)-1)
	for _, a := range def.addresses[1:] {
		split = append(split, Output{Address: a.Address, Amount: 25 * btcutil.SatoshiPerBitcoin})
	}
	if len(split) > 0 {
		if _, err := g.sendFrom(ctx, def, split); err != nil {
			return stepError("split utxo pool", def.name(), err)
		}
	}
	if err := g.mine(ctx, 1); err != nil {
		return stepError("mine", "", err)
	}

	for _, t := range g.tiers[1:] {
		g.log.Info("funding tier", "tier", t.name(), "outputs", t.cfg.FundingOutputs)
		if err := g.resyncDefault(ctx); err != nil {
			return err
		}
		remaining := t.cfg.FundingOutputs
		for remaining > 0 {
			n := remaining
			if n > len(t.addresses) {
				n = len(t.addresses)
			}
			if n > 20 {
				n = 20
			}
			outputs := make([]Output, n)
			for i := range outputs {
				amount := btcutil.Amount(1e7 + g.rand.Int63n(5e8-1e7))
				outputs[i] = Output{Address: t.nextAddress(), Amount: amount}
			}
			if _, err := g.sendFrom(ctx, def, outputs); err != nil {
				return stepError("fund tier", t.name(), err)
			}
			remaining -= n
		}
		if err := g.mine(ctx, 1); err != nil {
			return stepError("mine", "", err)
		}
	}
	g.stats.Funded = true
	return nil
}

// generateBlocks runs the main loop: per block, each tier independently
// decides whether to act, then exactly one block is mined.
func (g *Generator) generateBlocks(ctx context.Context) error {
	for g.height < g.cfg.Blocks {
		if err := ctx.Err(); err != nil {
			return stepError("generate blocks", "", err)
		}
		if g.stats.Funded {
			blockHeight := g.height + 1
			for _, t := range g.tiers {
				if g.rand.Float64() >= t.cfg.TxProbability {
					continue
				}
				if err := g.actTier(ctx, t, blockHeight); err != nil {
					return err
				}
			}
		}
		if err := g.mine(ctx, 1); err != nil {
			return stepError("mine", "", err)
		}
		if g.height%100 == 0 {
			g.log.Info("progress", "height", g.height, "target", g.cfg.Blocks,
				"transactions", g.stats.Transactions)
		}
	}
	return nil
}

// actTier lets one tier emit a transaction in the current round. Patterns
// that have not produced anything yet run first, so every pattern shows
// up in the fixture; after that the tier's weights decide.
func (g *Generator) actTier(ctx context.Context, t *tier, height int) error {
	if err := g.refundIfNeeded(ctx, t); err != nil {
		return err
	}
	if t == g.defaultTier() {
		if err := g.resyncDefault(ctx); err != nil {
			return err
		}
	}

	rctx := &roundContext{g: g, tier: t, height: height}
	for _, inst := range g.patterns {
		if !g.fresh[inst.name] || t.cfg.PatternWeights[inst.name] <= 0 {
			continue
		}
		ok, err := inst.apply(rctx)
		if err != nil {
			return stepError("broadcast "+inst.name, t.name(), err)
		}
		if ok {
			g.fresh[inst.name] = false
			g.stats.Transactions++
			return nil
		}
	}

	name := weightedChoice(g.rand, t.cfg.PatternWeights)
	if name == "" {
		return nil
	}
	inst := g.pattern(name)
	ok, err := inst.apply(rctx)
	if err != nil {
		return stepError("broadcast "+name, t.name(), err)
	}
	if ok {
		g.fresh[name] = false
		g.stats.Transactions++
	}
	return nil
}

func (g *Generator) pattern(name string) *patternInstance {
	for _, inst := range g.patterns {
		if inst.name == name {
			return inst
		}
	}
	return nil
}

// weightedChoice picks a key with probability proportional to its weight.
func weightedChoice(r *rand.Rand, weights map[string]int) string {
	names := make([]string, 0, len(weights))
	total := 0
	for name, w := range weights {
		if w > 0 {
			names = append(names, name)
			total += w
		}
	}
	if total == 0 {
		return ""
	}
	sort.Strings(names)
	pick := r.Intn(total)
	for _, name := range names {
		pick -= weights[name]
		if pick < 0 {
			return name
		}
	}
	return names[len(names)-1]
}

// refundIfNeeded tops a tier up from the default wallet when its ledger
// runs dry. Every tier keeps at least one spendable output this way.
func (g *Generator) refundIfNeeded(ctx context.Context, t *tier) error {
	if t == g.defaultTier() {
		return nil
	}
	if len(t.spendable) > 0 && t.spendableTotal() >= minTierBalance {
		return nil
	}
	if err := g.resyncDefault(ctx); err != nil {
		return err
	}
	g.log.Debug("refunding tier", "tier", t.name(), "amount", t.cfg.RefundAmount)
	out := Output{Address: t.nextAddress(), Amount: t.cfg.RefundAmount}
	if _, err := g.sendFrom(ctx, g.defaultTier(), []Output{out}); err != nil {
		return stepError("refund", t.name(), err)
	}
	g.stats.Refunds++
	return nil
}

// resyncDefault replaces the default tier's ledger with the node's view,
// picking up matured coinbase outputs.
func (g *Generator) resyncDefault(ctx context.Context) error {
	def := g.defaultTier()
	utxos, err := g.backend.ListUnspent(ctx, def.name(), 1)
	if err != nil {
		return stepError("list unspent", def.name(), err)
	}
	def.resync(utxos)
	return nil
}

// mine produces n blocks to the default wallet's miner address and
// promotes all pending tier outputs to spendable.
func (g *Generator) mine(ctx context.Context, n int) error {
	if _, err := g.backend.GenerateToAddress(ctx, n, g.minerAddr); err != nil {
		return err
	}
	g.height += n
	g.stats.Blocks += n
	for _, t := range g.tiers {
		t.confirm()
	}
	return nil
}

// checkHeight verifies the node agrees on the final chain height.
func (g *Generator) checkHeight(ctx context.Context) error {
	h, err := g.backend.BlockCount(ctx)
	if err != nil {
		return stepError("height check", "", err)
	}
	if h != g.cfg.Blocks {
		return stepError("height check", "",
			fmt.Errorf("chain height %d, want %d", h, g.cfg.Blocks))
	}
	return nil
}

// feeFor estimates the flat fee of a transaction with the given input and
// output counts at the given rate per kB.
func feeFor(numInputs, numOutputs int, rate btcutil.Amount) btcutil.Amount {
	size := 148*numInputs + 34*numOutputs + 10
	fee := rate * btcutil.Amount(size) / 1000
	if fee < rate {
		fee = rate
	}
	return fee
}

// sendFrom spends from tier t into the given outputs, adding inputs until
// amount plus fee is covered and paying change back to t. Outputs landing
// on any tier's address are recorded as pending in the owning ledger.
func (g *Generator) sendFrom(ctx context.Context, t *tier, outputs []Output) (string, error) {
	var want btcutil.Amount
	for _, out := range outputs {
		want += out.Amount
	}

	var (
		inputs []Unspent
		total  btcutil.Amount
		fee    btcutil.Amount
	)
	for {
		fee = feeFor(len(inputs), len(outputs)+1, g.cfg.FeeRate)
		if len(inputs) > 0 && total >= want+fee {
			break
		}
		sel, selTotal, err := t.selectInputs(want + fee - total)
		if err != nil {
			// Put the partial selection back, nothing was spent.
			t.spendable = append(t.spendable, inputs...)
			return "", err
		}
		inputs = append(inputs, sel...)
		total += selTotal
	}

	final := outputs
	change := total - want - fee
	if change >= g.cfg.DustThreshold {
		final = append(final[:len(final):len(final)], Output{
			Address: g.changeAddress(t, outputs),
			Amount:  change,
		})
	}
	// Sub-dust change is left to the fee.

	outpoints := make([]Outpoint, len(inputs))
	for i, u := range inputs {
		outpoints[i] = u.Outpoint
	}
	txid, err := g.backend.SendOutputs(ctx, t.name(), outpoints, final)
	if err != nil {
		return "", err
	}
	for i, out := range final {
		if owner := g.addrTier[out.Address]; owner != nil {
			owner.addPending(txid, uint32(i), out.Address, out.Amount)
		}
	}
	return txid, nil
}

// changeAddress picks a tier address not already used as an output, since
// the node rejects duplicate addresses within one transaction.
func (g *Generator) changeAddress(t *tier, outputs []Output) string {
	for i := 0; i < len(t.addresses); i++ {
		addr := t.nextAddress()
		used := false
		for _, out := range outputs {
			if out.Address == addr {
				used = true
				break
			}
		}
		if !used {
			return addr
		}
	}
	return t.addresses[0].Address
}
