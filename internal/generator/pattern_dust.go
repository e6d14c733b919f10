package generator

import "github.com/btcsuite/btcd/btcutil"

func init() {
	register("dust", func() txPattern {
		return &patternDust{}
	})
}

// patternDust creates outputs at the relay dust threshold, the smallest
// value the node still accepts. Light clients consuming the fixtures need
// such outputs for edge-case coverage.
type patternDust struct {
	txs []patternTx
}

func (p *patternDust) apply(ctx *roundContext) (bool, error) {
	// Dust outputs barely move value, but the spend still needs a
	// reasonably sized input to cover the fee without draining the tier.
	if ctx.Spendable() < btcutil.SatoshiPerBitcoin/10 {
		return false, nil
	}

	numOutputs := 1 + ctx.Rand().Intn(3)
	dust := ctx.DustThreshold()
	outputs := make([]Output, numOutputs)
	for i := range outputs {
		outputs[i] = Output{Address: ctx.Tier().nextAddress(), Amount: dust}
	}
	txid, ok, err := ctx.Send(outputs)
	if !ok || err != nil {
		return false, err
	}
	p.txs = append(p.txs, patternTx{
		Block:   ctx.Height(),
		Tier:    ctx.Tier().name(),
		TxID:    txid,
		Outputs: numOutputs,
		Amount:  dust * btcutil.Amount(numOutputs),
	})
	return true, nil
}

func (p *patternDust) txInfo() any {
	return p.txs
}
