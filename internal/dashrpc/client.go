package dashrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/xdustinface/regtest-blockchain/internal/generator"
)

// Config locates the node a Client talks to.
type Config struct {
	DashCliPath string // dash-cli executable, resolved via PATH if bare
	DataDir     string // node data directory
	RPCPort     int    // RPC port, 0 uses the network default

	CallTimeout time.Duration // per-invocation bound
	MaxRetries  int           // attempts for retryable failures
}

func (cfg Config) withDefaults() Config {
	if cfg.DashCliPath == "" {
		cfg.DashCliPath = "dash-cli"
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return cfg
}

// Client issues RPC calls by running dash-cli. It implements
// generator.Backend.
type Client struct {
	cfg Config
	log log15.Logger
}

var _ generator.Backend = (*Client)(nil)

// New creates a client. No connection is made until the first call.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults(), log: log15.New("module", "dashrpc")}
}

// Call invokes one RPC method and returns the raw stdout. Wallet-scoped
// methods pass the wallet name, others leave it empty. Connection-level
// failures and the node's warm-up phase are retried with backoff.
func (c *Client) Call(ctx context.Context, wallet, method string, args ...any) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 250 * time.Millisecond):
			}
		}
		out, err := c.execute(ctx, wallet, method, args)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		c.log.Debug("retrying call", "method", method, "attempt", attempt+1, "err", err)
	}
	return nil, errors.Wrapf(lastErr, "%s failed after %d attempts", method, c.cfg.MaxRetries)
}

func (c *Client) execute(ctx context.Context, wallet, method string, args []any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	argv := []string{"-regtest"}
	if c.cfg.DataDir != "" {
		argv = append(argv, "-datadir="+c.cfg.DataDir)
	}
	if c.cfg.RPCPort != 0 {
		argv = append(argv, "-rpcport="+strconv.Itoa(c.cfg.RPCPort))
	}
	if wallet != "" {
		argv = append(argv, "-rpcwallet="+wallet)
	}
	argv = append(argv, method)
	for _, arg := range args {
		argv = append(argv, formatArg(arg))
	}

	cmd := exec.CommandContext(ctx, c.cfg.DashCliPath, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s timed out", method)
		}
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, errors.Wrapf(err, "running %s", c.cfg.DashCliPath)
		}
		return nil, classifyError(method, stderr.String())
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}

// formatArg renders one RPC argument the way dash-cli expects it on the
// command line.
func formatArg(arg any) string {
	switch v := arg.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (c *Client) callJSON(ctx context.Context, wallet, method string, result any, args ...any) error {
	out, err := c.Call(ctx, wallet, method, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, result); err != nil {
		return errors.Wrapf(err, "parsing %s response", method)
	}
	return nil
}

func (c *Client) callString(ctx context.Context, wallet, method string, args ...any) (string, error) {
	out, err := c.Call(ctx, wallet, method, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CreateWallet creates a wallet. A wallet that already exists on disk is
// loaded instead, so reruns against a pre-seeded node keep working.
func (c *Client) CreateWallet(ctx context.Context, name string) error {
	_, err := c.Call(ctx, "", "createwallet", name)
	if cmdErr, ok := err.(*CommandError); ok {
		lower := strings.ToLower(cmdErr.Output)
		if strings.Contains(lower, "already loaded") {
			return nil
		}
		if strings.Contains(lower, "already exists") {
			return c.LoadWallet(ctx, name)
		}
	}
	return err
}

// LoadWallet loads an existing wallet. Loading a wallet twice is not an
// error.
func (c *Client) LoadWallet(ctx context.Context, name string) error {
	_, err := c.Call(ctx, "", "loadwallet", name)
	if cmdErr, ok := err.(*CommandError); ok {
		if strings.Contains(strings.ToLower(cmdErr.Output), "already loaded") {
			return nil
		}
	}
	return err
}

// NewAddress derives a fresh address with the given label.
func (c *Client) NewAddress(ctx context.Context, wallet, label string) (string, error) {
	return c.callString(ctx, wallet, "getnewaddress", label)
}

// AddressInfo fetches the HD derivation path of an address.
func (c *Client) AddressInfo(ctx context.Context, wallet, address string) (generator.AddressInfo, error) {
	var resp struct {
		Address   string `json:"address"`
		HDKeyPath string `json:"hdkeypath"`
	}
	if err := c.callJSON(ctx, wallet, "getaddressinfo", &resp, address); err != nil {
		return generator.AddressInfo{}, err
	}
	return generator.AddressInfo{Address: resp.Address, HDKeyPath: resp.HDKeyPath}, nil
}

// DumpPrivKey reveals the private key of an address, useful when
// debugging an exported fixture by hand.
func (c *Client) DumpPrivKey(ctx context.Context, wallet, address string) (string, error) {
	return c.callString(ctx, wallet, "dumpprivkey", address)
}

// WalletMnemonic returns the wallet's HD seed phrase.
func (c *Client) WalletMnemonic(ctx context.Context, wallet string) (string, error) {
	var resp struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := c.callJSON(ctx, wallet, "dumphdinfo", &resp); err != nil {
		return "", err
	}
	return resp.Mnemonic, nil
}

type unspentEntry struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
}

// ListUnspent returns the wallet's spendable outputs with at least
// minConf confirmations.
func (c *Client) ListUnspent(ctx context.Context, wallet string, minConf int) ([]generator.Unspent, error) {
	var entries []unspentEntry
	if err := c.callJSON(ctx, wallet, "listunspent", &entries, minConf, 9999999); err != nil {
		return nil, err
	}
	utxos := make([]generator.Unspent, 0, len(entries))
	for _, e := range entries {
		amount, err := btcutil.NewAmount(e.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "unspent %s:%d amount", e.TxID, e.Vout)
		}
		utxos = append(utxos, generator.Unspent{
			Outpoint:      generator.Outpoint{TxID: e.TxID, Vout: e.Vout},
			Address:       e.Address,
			Amount:        amount,
			Confirmations: e.Confirmations,
		})
	}
	return utxos, nil
}

// Balance returns the wallet's confirmed balance.
func (c *Client) Balance(ctx context.Context, wallet string) (btcutil.Amount, error) {
	var balance float64
	if err := c.callJSON(ctx, wallet, "getbalance", &balance); err != nil {
		return 0, err
	}
	return btcutil.NewAmount(balance)
}

// ListTransactions returns up to count entries of the wallet's history.
func (c *Client) ListTransactions(ctx context.Context, wallet string, count int) ([]generator.WalletTx, error) {
	var entries []struct {
		TxID          string  `json:"txid"`
		Address       string  `json:"address"`
		Amount        float64 `json:"amount"`
		Confirmations int64   `json:"confirmations"`
		BlockHash     string  `json:"blockhash"`
		Time          int64   `json:"time"`
	}
	if err := c.callJSON(ctx, wallet, "listtransactions", &entries, "*", count, 0, true); err != nil {
		return nil, err
	}
	txs := make([]generator.WalletTx, 0, len(entries))
	for _, e := range entries {
		amount, err := btcutil.NewAmount(e.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %s amount", e.TxID)
		}
		txs = append(txs, generator.WalletTx{
			TxID:          e.TxID,
			Address:       e.Address,
			Amount:        amount,
			Confirmations: e.Confirmations,
			BlockHash:     e.BlockHash,
			Time:          e.Time,
		})
	}
	return txs, nil
}

// SendOutputs creates, signs and broadcasts a raw transaction spending
// the given inputs into the given outputs.
func (c *Client) SendOutputs(ctx context.Context, wallet string, inputs []generator.Outpoint, outputs []generator.Output) (string, error) {
	inputArg, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	outs := make([]map[string]string, 0, len(outputs))
	for _, out := range outputs {
		outs = append(outs, map[string]string{
			out.Address: strconv.FormatFloat(out.Amount.ToBTC(), 'f', 8, 64),
		})
	}
	outputArg, err := json.Marshal(outs)
	if err != nil {
		return "", err
	}

	rawHex, err := c.callString(ctx, wallet, "createrawtransaction",
		json.RawMessage(inputArg), json.RawMessage(outputArg))
	if err != nil {
		return "", err
	}
	var signed struct {
		Hex      string `json:"hex"`
		Complete bool   `json:"complete"`
	}
	if err := c.callJSON(ctx, wallet, "signrawtransactionwithwallet", &signed, rawHex); err != nil {
		return "", err
	}
	if !signed.Complete {
		return "", &CommandError{Method: "signrawtransactionwithwallet", Output: "incomplete signature"}
	}
	return c.callString(ctx, wallet, "sendrawtransaction", signed.Hex)
}

// GenerateToAddress mines n blocks paying the given address.
func (c *Client) GenerateToAddress(ctx context.Context, n int, address string) ([]string, error) {
	var hashes []string
	if err := c.callJSON(ctx, "", "generatetoaddress", &hashes, n, address); err != nil {
		return nil, err
	}
	return hashes, nil
}

// BlockCount returns the current chain height.
func (c *Client) BlockCount(ctx context.Context) (int, error) {
	var height int
	if err := c.callJSON(ctx, "", "getblockcount", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// Stop asks the node to shut down.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.Call(ctx, "", "stop")
	return err
}
