package generator

import (
	"math/rand"

	"github.com/btcsuite/btcd/btcutil"
)

// txPattern produces one kind of transaction shape. Implementations live
// in the pattern_*.go files and register themselves via register().
type txPattern interface {
	// apply attempts to emit one transaction for the acting tier. It
	// returns false when the pattern is not applicable right now (for
	// example the tier cannot cover the planned amounts). Backend
	// failures are returned as errors and abort the run.
	apply(ctx *roundContext) (bool, error)

	// txInfo returns data about the emitted transactions, for the run
	// manifest.
	txInfo() any
}

var patternRegistry = make(map[string]func() txPattern)

// register adds a transaction pattern.
func register(name string, new func() txPattern) {
	patternRegistry[name] = new
}

type patternInstance struct {
	name string
	txPattern
}

// roundContext is handed to patterns when a tier acts in a block round.
type roundContext struct {
	g      *Generator
	tier   *tier
	height int
}

// Height returns the height of the block being prepared.
func (ctx *roundContext) Height() int { return ctx.height }

// Rand returns the run's seeded random source.
func (ctx *roundContext) Rand() *rand.Rand { return ctx.g.rand }

// Tier returns the acting tier.
func (ctx *roundContext) Tier() *tier { return ctx.tier }

// OtherTier picks a random tier different from the acting one.
func (ctx *roundContext) OtherTier() *tier {
	for {
		t := ctx.g.tiers[ctx.g.rand.Intn(len(ctx.g.tiers))]
		if t != ctx.tier {
			return t
		}
	}
}

// Spendable returns the acting tier's confirmed balance.
func (ctx *roundContext) Spendable() btcutil.Amount {
	return ctx.tier.spendableTotal()
}

// DustThreshold returns the run's minimum relayable output value.
func (ctx *roundContext) DustThreshold() btcutil.Amount {
	return ctx.g.cfg.DustThreshold
}

// RandomAmount returns a random amount in [min, max].
func (ctx *roundContext) RandomAmount(min, max btcutil.Amount) btcutil.Amount {
	if max <= min {
		return min
	}
	return min + btcutil.Amount(ctx.g.rand.Int63n(int64(max-min)+1))
}

// Send spends from the acting tier into the given outputs. It returns
// false without error when the tier cannot cover outputs plus fee.
func (ctx *roundContext) Send(outputs []Output) (string, bool, error) {
	txid, err := ctx.g.sendFrom(ctx.g.runCtx, ctx.tier, outputs)
	if err == ErrInsufficientFunds {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return txid, true, nil
}

// patternTx is the manifest record shared by all patterns.
type patternTx struct {
	Block   int            `json:"block"`
	Tier    string         `json:"tier"`
	TxID    string         `json:"txid"`
	Outputs int            `json:"outputs"`
	Amount  btcutil.Amount `json:"amount"`
}
