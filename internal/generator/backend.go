package generator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Outpoint identifies a transaction output.
type Outpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// Output is a single transaction output to be created.
type Output struct {
	Address string
	Amount  btcutil.Amount
}

// Unspent is a spendable output known to a wallet.
type Unspent struct {
	Outpoint
	Address       string         `json:"address"`
	Amount        btcutil.Amount `json:"amount"`
	Confirmations int64          `json:"confirmations"`
}

// AddressInfo describes a single derived wallet address. The private key
// is WIF-encoded; fixtures are regtest-only, so exporting key material is
// intended and lets consumers sign on behalf of the wallets.
type AddressInfo struct {
	Address    string `json:"address"`
	Label      string `json:"label"`
	HDKeyPath  string `json:"hd_path"`
	PrivateKey string `json:"private_key"`
}

// WalletTx is one entry of a wallet's transaction history.
type WalletTx struct {
	TxID          string         `json:"txid"`
	Address       string         `json:"address"`
	Amount        btcutil.Amount `json:"amount"`
	Confirmations int64          `json:"confirmations"`
	BlockHash     string         `json:"blockhash"`
	Time          int64          `json:"time"`
}

// Backend is the node-facing surface the generator drives. The real
// implementation execs the dash-cli tool against a running dashd
// (internal/dashrpc); tests substitute an in-memory node
// (internal/fakes).
type Backend interface {
	// Wallet management.
	CreateWallet(ctx context.Context, name string) error
	NewAddress(ctx context.Context, wallet, label string) (string, error)
	AddressInfo(ctx context.Context, wallet, address string) (AddressInfo, error)
	WalletMnemonic(ctx context.Context, wallet string) (string, error)
	DumpPrivKey(ctx context.Context, wallet, address string) (string, error)

	// Funds and history.
	ListUnspent(ctx context.Context, wallet string, minConf int) ([]Unspent, error)
	Balance(ctx context.Context, wallet string) (btcutil.Amount, error)
	ListTransactions(ctx context.Context, wallet string, count int) ([]WalletTx, error)

	// SendOutputs builds, signs and broadcasts a transaction spending
	// exactly the given inputs into the given outputs. The difference
	// between input and output sums is the fee. It returns the txid.
	SendOutputs(ctx context.Context, wallet string, inputs []Outpoint, outputs []Output) (string, error)

	// Chain progress.
	GenerateToAddress(ctx context.Context, n int, address string) ([]string, error)
	BlockCount(ctx context.Context) (int, error)
}
