package generator

import "github.com/btcsuite/btcd/btcutil"

func init() {
	register("transfer", func() txPattern {
		return &patternTransfer{}
	})
}

// patternTransfer moves funds to a different tier's address, creating
// cross-wallet transaction history.
type patternTransfer struct {
	txs []transferTx
}

type transferTx struct {
	patternTx
	To string `json:"to"`
}

func (p *patternTransfer) apply(ctx *roundContext) (bool, error) {
	if ctx.Spendable() < 2*btcutil.SatoshiPerBitcoin {
		return false, nil
	}

	dest := ctx.OtherTier()
	amount := ctx.RandomAmount(1*btcutil.SatoshiPerBitcoin, 3*btcutil.SatoshiPerBitcoin)
	out := Output{Address: dest.nextAddress(), Amount: amount}
	txid, ok, err := ctx.Send([]Output{out})
	if !ok || err != nil {
		return false, err
	}
	p.txs = append(p.txs, transferTx{
		patternTx: patternTx{
			Block:   ctx.Height(),
			Tier:    ctx.Tier().name(),
			TxID:    txid,
			Outputs: 1,
			Amount:  amount,
		},
		To: dest.name(),
	})
	return true, nil
}

func (p *patternTransfer) txInfo() any {
	return p.txs
}
