package dashrpc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
)

func TestFormatArg(t *testing.T) {
	tests := []struct {
		arg  any
		want string
	}{
		{true, "true"},
		{false, "false"},
		{"hello", "hello"},
		{[]byte("raw"), "raw"},
		{json.RawMessage(`[{"txid":"x"}]`), `[{"txid":"x"}]`},
		{42, "42"},
		{int64(9999999), "9999999"},
	}
	for _, test := range tests {
		if got := formatArg(test.arg); got != test.want {
			t.Errorf("formatArg(%v) = %q, want %q", test.arg, got, test.want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.DashCliPath != "dash-cli" {
		t.Errorf("cli path = %q", cfg.DashCliPath)
	}
	if cfg.CallTimeout == 0 || cfg.MaxRetries == 0 {
		t.Errorf("timeouts not defaulted: %+v", cfg)
	}
}

// stubCLI writes a dash-cli replacement that answers a fixed set of
// methods, so the subprocess plumbing can be tested without a node.
func stubCLI(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	script := `#!/bin/sh
method=""
for arg in "$@"; do
	case "$arg" in
	-*) continue ;;
	*) method="$arg"; break ;;
	esac
done
case "$method" in
getblockcount)
	echo 42 ;;
getnewaddress)
	echo yStubAddress ;;
createwallet)
	printf 'error: Wallet "test" already exists.\n' >&2
	exit 1 ;;
loadwallet)
	echo '{"name":"test"}' ;;
dumpprivkey)
	echo cStubPrivateKey ;;
listunspent)
	echo '[{"txid":"aabb","vout":1,"address":"yStubAddress","amount":1.5,"confirmations":3}]' ;;
sendrawtransaction)
	printf 'error code: -6\nerror message:\nInsufficient funds\n' >&2
	exit 1 ;;
*)
	printf 'unknown method %s\n' "$method" >&2
	exit 1 ;;
esac
`
	path := filepath.Join(t.TempDir(), "dash-cli")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientCalls(t *testing.T) {
	client := New(Config{DashCliPath: stubCLI(t)})
	ctx := context.Background()

	height, err := client.BlockCount(ctx)
	if err != nil {
		t.Fatal("BlockCount:", err)
	}
	if height != 42 {
		t.Errorf("height = %d, want 42", height)
	}

	addr, err := client.NewAddress(ctx, "default", "default_000")
	if err != nil {
		t.Fatal("NewAddress:", err)
	}
	if addr != "yStubAddress" {
		t.Errorf("address = %q", addr)
	}

	utxos, err := client.ListUnspent(ctx, "default", 1)
	if err != nil {
		t.Fatal("ListUnspent:", err)
	}
	if len(utxos) != 1 {
		t.Fatalf("got %d utxos", len(utxos))
	}
	u := utxos[0]
	if u.TxID != "aabb" || u.Vout != 1 || u.Confirmations != 3 {
		t.Errorf("utxo = %+v", u)
	}
	if u.Amount != btcutil.Amount(1.5*btcutil.SatoshiPerBitcoin) {
		t.Errorf("amount = %v, want 1.5 DASH in duffs", u.Amount)
	}

	key, err := client.DumpPrivKey(ctx, "default", "yStubAddress")
	if err != nil {
		t.Fatal("DumpPrivKey:", err)
	}
	if key != "cStubPrivateKey" {
		t.Errorf("private key = %q", key)
	}
}

// The stub answers createwallet with "already exists", so CreateWallet
// must fall back to loading the wallet.
func TestClientCreateWalletExists(t *testing.T) {
	client := New(Config{DashCliPath: stubCLI(t)})
	if err := client.CreateWallet(context.Background(), "test"); err != nil {
		t.Fatal("existing wallet not tolerated:", err)
	}
}

func TestClientInsufficientFunds(t *testing.T) {
	client := New(Config{DashCliPath: stubCLI(t)})
	_, err := client.Call(context.Background(), "default", "sendrawtransaction", "00")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestClientUnknownMethod(t *testing.T) {
	client := New(Config{DashCliPath: stubCLI(t)})
	_, err := client.Call(context.Background(), "", "bogusmethod")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v (%T), want CommandError", err, err)
	}
	if !strings.Contains(cmdErr.Output, "bogusmethod") {
		t.Errorf("stderr not captured: %q", cmdErr.Output)
	}
}

func TestClientMissingBinary(t *testing.T) {
	client := New(Config{DashCliPath: filepath.Join(t.TempDir(), "missing")})
	if _, err := client.BlockCount(context.Background()); err == nil {
		t.Fatal("no error for missing dash-cli")
	}
}
