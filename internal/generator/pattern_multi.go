package generator

import "github.com/btcsuite/btcd/btcutil"

func init() {
	register("multi", func() txPattern {
		return &patternMulti{}
	})
}

// patternMulti splits a payment across 2-5 recipients to diversify the
// tier's UTXO set.
type patternMulti struct {
	txs []patternTx
}

func (p *patternMulti) apply(ctx *roundContext) (bool, error) {
	balance := ctx.Spendable()
	if balance < btcutil.SatoshiPerBitcoin {
		return false, nil
	}

	numOutputs := 2 + ctx.Rand().Intn(4)
	total := ctx.RandomAmount(balance/5, balance/2)
	if limit := ctx.RandomAmount(5*btcutil.SatoshiPerBitcoin, 15*btcutil.SatoshiPerBitcoin); total > limit {
		total = limit
	}
	each := total / btcutil.Amount(numOutputs)
	if each < btcutil.SatoshiPerBitcoin/100 {
		return false, nil
	}

	outputs := make([]Output, numOutputs)
	for i := range outputs {
		outputs[i] = Output{Address: ctx.Tier().nextAddress(), Amount: each}
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
		Amount:  each * btcutil.Amount(numOutputs),
	})
	return true, nil
}

func (p *patternMulti) txInfo() any {
	return p.txs
}
