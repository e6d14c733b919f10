package generator

import "github.com/btcsuite/btcd/btcutil"

func init() {
	register("single", func() txPattern {
		return &patternSingle{}
	})
}

// patternSingle pays a single recipient within the acting tier, roughly
// 10-50% of the tier's balance capped at a few DASH.
type patternSingle struct {
	txs []patternTx
}

func (p *patternSingle) apply(ctx *roundContext) (bool, error) {
	balance := ctx.Spendable()
	if balance < btcutil.SatoshiPerBitcoin/10 {
		return false, nil
	}

	upper := balance / 2
	if limit := ctx.RandomAmount(1*btcutil.SatoshiPerBitcoin, 5*btcutil.SatoshiPerBitcoin); upper > limit {
		upper = limit
	}
	amount := ctx.RandomAmount(balance/10, upper)
	if amount < btcutil.SatoshiPerBitcoin/100 {
		return false, nil
	}

	out := Output{Address: ctx.Tier().nextAddress(), Amount: amount}
	txid, ok, err := ctx.Send([]Output{out})
	if !ok || err != nil {
		return false, err
	}
	p.txs = append(p.txs, patternTx{
		Block:   ctx.Height(),
		Tier:    ctx.Tier().name(),
		TxID:    txid,
		Outputs: 1,
		Amount:  amount,
	})
	return true, nil
}

func (p *patternSingle) txInfo() any {
	return p.txs
}
