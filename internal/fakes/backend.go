// Package fakes provides an in-memory stand-in for a regtest node so the
// generator can be exercised without external dashd binaries.
package fakes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/xdustinface/regtest-blockchain/internal/generator"
	"github.com/xdustinface/regtest-blockchain/internal/hdwallet"
)

const (
	coinbaseSubsidy  = 500 * btcutil.SatoshiPerBitcoin
	coinbaseMaturity = 100
)

// BackendHooks can be used to override the behavior of the fake backend.
type BackendHooks struct {
	CreateWallet      func(name string) error
	NewAddress        func(wallet, label string) (string, error)
	SendOutputs       func(wallet string, inputs []generator.Outpoint, outputs []generator.Output) (string, error)
	GenerateToAddress func(n int, address string) ([]string, error)
	BlockCount        func() (int, error)
}

// TxRecord is one transaction accepted by the fake node, kept for test
// assertions.
type TxRecord struct {
	TxID    string
	Wallet  string
	Inputs  []generator.Outpoint
	Outputs []generator.Output
}

type fakeWallet struct {
	name     string
	mnemonic string
	root     *hdkeychain.ExtendedKey
	addrs    []generator.AddressInfo
}

type fakeUTXO struct {
	wallet      string
	address     string
	amount      btcutil.Amount
	confirmedAt int // block height, -1 while in the mempool
	coinbase    bool
}

type histEntry struct {
	tx     generator.WalletTx
	height int // -1 while unconfirmed
}

var _ = generator.Backend(&Backend{})

// Backend simulates a regtest node: wallets with real HD derivation,
// UTXO tracking with coinbase maturity, a mempool and block production.
// It refuses double spends and underfunded transactions just like the
// real node would.
type Backend struct {
	hooks BackendHooks

	height     int
	wallets    map[string]*fakeWallet
	addrWallet map[string]string
	utxos      map[generator.Outpoint]*fakeUTXO
	spentBy    map[generator.Outpoint]string
	history    map[string][]*histEntry
	txs        []TxRecord
	txCounter  int
}

// NewBackend creates a fake node at height 0.
func NewBackend(hooks *BackendHooks) *Backend {
	b := &Backend{
		wallets:    make(map[string]*fakeWallet),
		addrWallet: make(map[string]string),
		utxos:      make(map[generator.Outpoint]*fakeUTXO),
		spentBy:    make(map[generator.Outpoint]string),
		history:    make(map[string][]*histEntry),
	}
	if hooks != nil {
		b.hooks = *hooks
	}
	return b
}

// Height returns the simulated chain height.
func (b *Backend) Height() int { return b.height }

// Transactions returns all accepted non-coinbase transactions.
func (b *Backend) Transactions() []TxRecord { return b.txs }

func (b *Backend) wallet(name string) (*fakeWallet, error) {
	w := b.wallets[name]
	if w == nil {
		return nil, errors.Errorf("wallet %q not loaded", name)
	}
	return w, nil
}

func (b *Backend) CreateWallet(ctx context.Context, name string) error {
	if b.hooks.CreateWallet != nil {
		return b.hooks.CreateWallet(name)
	}
	if b.wallets[name] != nil {
		return nil
	}
	// Deterministic per-wallet mnemonic so reruns are comparable.
	entropy := sha256.Sum256([]byte("wallet:" + name))
	mnemonic, err := bip39.NewMnemonic(entropy[:])
	if err != nil {
		return err
	}
	root, err := hdwallet.RootKey(mnemonic)
	if err != nil {
		return err
	}
	b.wallets[name] = &fakeWallet{name: name, mnemonic: mnemonic, root: root}
	return nil
}

func (b *Backend) NewAddress(ctx context.Context, wallet, label string) (string, error) {
	if b.hooks.NewAddress != nil {
		return b.hooks.NewAddress(wallet, label)
	}
	w, err := b.wallet(wallet)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/%d", hdwallet.BasePath, len(w.addrs))
	addr, err := hdwallet.Address(w.root, path)
	if err != nil {
		return "", err
	}
	w.addrs = append(w.addrs, generator.AddressInfo{Address: addr, Label: label, HDKeyPath: path})
	b.addrWallet[addr] = wallet
	return addr, nil
}

func (b *Backend) AddressInfo(ctx context.Context, wallet, address string) (generator.AddressInfo, error) {
	w, err := b.wallet(wallet)
	if err != nil {
		return generator.AddressInfo{}, err
	}
	for _, info := range w.addrs {
		if info.Address == address {
			return info, nil
		}
	}
	return generator.AddressInfo{}, errors.Errorf("address %s not in wallet %s", address, wallet)
}

func (b *Backend) DumpPrivKey(ctx context.Context, wallet, address string) (string, error) {
	w, err := b.wallet(wallet)
	if err != nil {
		return "", err
	}
	for _, info := range w.addrs {
		if info.Address == address {
			return hdwallet.PrivateKeyWIF(w.root, info.HDKeyPath)
		}
	}
	return "", errors.Errorf("address %s not in wallet %s", address, wallet)
}

func (b *Backend) WalletMnemonic(ctx context.Context, wallet string) (string, error) {
	w, err := b.wallet(wallet)
	if err != nil {
		return "", err
	}
	return w.mnemonic, nil
}

func (b *Backend) confirmations(u *fakeUTXO) int64 {
	if u.confirmedAt < 0 {
		return 0
	}
	return int64(b.height - u.confirmedAt + 1)
}

func (b *Backend) spendableUTXO(u *fakeUTXO) bool {
	conf := b.confirmations(u)
	if conf < 1 {
		return false
	}
	if u.coinbase && conf < coinbaseMaturity+1 {
		return false
	}
	return true
}

func (b *Backend) ListUnspent(ctx context.Context, wallet string, minConf int) ([]generator.Unspent, error) {
	if _, err := b.wallet(wallet); err != nil {
		return nil, err
	}
	var utxos []generator.Unspent
	for op, u := range b.utxos {
		if u.wallet != wallet || !b.spendableUTXO(u) {
			continue
		}
		if _, spent := b.spentBy[op]; spent {
			continue
		}
		if conf := b.confirmations(u); conf >= int64(minConf) {
			utxos = append(utxos, generator.Unspent{
				Outpoint:      op,
				Address:       u.address,
				Amount:        u.amount,
				Confirmations: conf,
			})
		}
	}
	return utxos, nil
}

func (b *Backend) Balance(ctx context.Context, wallet string) (btcutil.Amount, error) {
	utxos, err := b.ListUnspent(ctx, wallet, 1)
	if err != nil {
		return 0, err
	}
	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Amount
	}
	return total, nil
}

func (b *Backend) ListTransactions(ctx context.Context, wallet string, count int) ([]generator.WalletTx, error) {
	if _, err := b.wallet(wallet); err != nil {
		return nil, err
	}
	entries := b.history[wallet]
	if len(entries) > count {
		entries = entries[len(entries)-count:]
	}
	txs := make([]generator.WalletTx, 0, len(entries))
	for _, e := range entries {
		tx := e.tx
		if e.height >= 0 {
			tx.Confirmations = int64(b.height - e.height + 1)
			tx.BlockHash = blockHash(e.height)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (b *Backend) SendOutputs(ctx context.Context, wallet string, inputs []generator.Outpoint, outputs []generator.Output) (string, error) {
	if b.hooks.SendOutputs != nil {
		return b.hooks.SendOutputs(wallet, inputs, outputs)
	}
	if _, err := b.wallet(wallet); err != nil {
		return "", err
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", errors.New("transaction needs inputs and outputs")
	}

	var inTotal btcutil.Amount
	for _, op := range inputs {
		u := b.utxos[op]
		if u == nil {
			return "", errors.Errorf("unknown input %s", op)
		}
		if txid, spent := b.spentBy[op]; spent {
			return "", errors.Errorf("input %s already spent by %s", op, txid)
		}
		if u.wallet != wallet {
			return "", errors.Errorf("input %s not owned by wallet %s", op, wallet)
		}
		if !b.spendableUTXO(u) {
			return "", errors.Errorf("input %s not spendable yet", op)
		}
		inTotal += u.amount
	}
	var outTotal btcutil.Amount
	for _, out := range outputs {
		if out.Amount <= 0 {
			return "", errors.Errorf("non-positive output to %s", out.Address)
		}
		outTotal += out.Amount
	}
	if outTotal >= inTotal {
		return "", errors.New("insufficient funds: outputs exceed inputs")
	}

	b.txCounter++
	txid := txHash(b.txCounter)
	for _, op := range inputs {
		b.spentBy[op] = txid
	}
	received := make(map[string]btcutil.Amount)
	for i, out := range outputs {
		owner := b.addrWallet[out.Address]
		b.utxos[generator.Outpoint{TxID: txid, Vout: uint32(i)}] = &fakeUTXO{
			wallet:      owner,
			address:     out.Address,
			amount:      out.Amount,
			confirmedAt: -1,
		}
		if owner != "" {
			received[owner] += out.Amount
			b.addHistory(owner, txid, out.Address, out.Amount)
		}
	}
	// The spender's net history entry: inputs out, change back in.
	net := inTotal - received[wallet]
	b.addHistory(wallet, txid, "", -net)

	b.txs = append(b.txs, TxRecord{TxID: txid, Wallet: wallet, Inputs: inputs, Outputs: outputs})
	return txid, nil
}

func (b *Backend) addHistory(wallet, txid, address string, amount btcutil.Amount) {
	b.history[wallet] = append(b.history[wallet], &histEntry{
		tx:     generator.WalletTx{TxID: txid, Address: address, Amount: amount, Time: int64(1600000000 + b.height)},
		height: -1,
	})
}

func (b *Backend) GenerateToAddress(ctx context.Context, n int, address string) ([]string, error) {
	if b.hooks.GenerateToAddress != nil {
		return b.hooks.GenerateToAddress(n, address)
	}
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b.height++
		// Confirm the mempool.
		for _, u := range b.utxos {
			if u.confirmedAt < 0 {
				u.confirmedAt = b.height
			}
		}
		for _, entries := range b.history {
			for _, e := range entries {
				if e.height < 0 {
					e.height = b.height
				}
			}
		}
		// Coinbase payout.
		b.txCounter++
		txid := txHash(b.txCounter)
		owner := b.addrWallet[address]
		b.utxos[generator.Outpoint{TxID: txid, Vout: 0}] = &fakeUTXO{
			wallet:      owner,
			address:     address,
			amount:      coinbaseSubsidy,
			confirmedAt: b.height,
			coinbase:    true,
		}
		if owner != "" {
			b.addHistory(owner, txid, address, coinbaseSubsidy)
			entries := b.history[owner]
			entries[len(entries)-1].height = b.height
		}
		hashes = append(hashes, blockHash(b.height))
	}
	return hashes, nil
}

func (b *Backend) BlockCount(ctx context.Context) (int, error) {
	if b.hooks.BlockCount != nil {
		return b.hooks.BlockCount()
	}
	return b.height, nil
}

func txHash(counter int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("tx-%d", counter)))
	return hex.EncodeToString(h[:])
}

func blockHash(height int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("block-%d", height)))
	return hex.EncodeToString(h[:])
}
