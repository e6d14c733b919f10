package generator

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
)

// tier holds the live state of one wallet tier during a run: its derived
// addresses and the generator's own view of spendable and pending outputs.
// Selected inputs leave the spendable set immediately, so no outpoint can
// be used twice within a run. Outputs of a broadcast transaction sit in
// pending until the next block is mined.
type tier struct {
	cfg       TierConfig
	mnemonic  string
	addresses []AddressInfo

	spendable []Unspent
	pending   []Unspent

	addrCursor int // round-robin position for payout addresses
}

func (t *tier) name() string { return t.cfg.Name }

// nextAddress cycles through the tier's derived addresses.
func (t *tier) nextAddress() string {
	addr := t.addresses[t.addrCursor%len(t.addresses)]
	t.addrCursor++
	return addr.Address
}

// spendableTotal sums the tier's confirmed, unselected outputs.
func (t *tier) spendableTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, u := range t.spendable {
		total += u.Amount
	}
	return total
}

// selectInputs picks the fewest outputs covering amount, largest first.
// The chosen outputs are removed from the spendable set right away.
func (t *tier) selectInputs(amount btcutil.Amount) ([]Unspent, btcutil.Amount, error) {
	sort.Slice(t.spendable, func(i, j int) bool {
		return t.spendable[i].Amount > t.spendable[j].Amount
	})

	var (
		selected []Unspent
		total    btcutil.Amount
	)
	for _, u := range t.spendable {
		selected = append(selected, u)
		total += u.Amount
		if total >= amount {
			break
		}
	}
	if total < amount {
		return nil, 0, ErrInsufficientFunds
	}
	t.spendable = t.spendable[len(selected):]
	return selected, total, nil
}

// addPending records the outputs of a just-broadcast transaction that pay
// back to this tier. They become spendable once a block confirms them.
func (t *tier) addPending(txid string, vout uint32, addr string, amount btcutil.Amount) {
	t.pending = append(t.pending, Unspent{
		Outpoint: Outpoint{TxID: txid, Vout: vout},
		Address:  addr,
		Amount:   amount,
	})
}

// confirm promotes pending outputs to spendable after a block was mined.
func (t *tier) confirm() {
	for i := range t.pending {
		t.pending[i].Confirmations = 1
	}
	t.spendable = append(t.spendable, t.pending...)
	t.pending = nil
}

// resync replaces the ledger with the node's view. Used for the default
// wallet, whose balance also grows through coinbase maturation that the
// generator does not track itself.
func (t *tier) resync(utxos []Unspent) {
	t.spendable = utxos
	t.pending = nil
}
