// Package hdwallet derives Dash regtest addresses from BIP39 mnemonics,
// mirroring the node's own HD derivation so exports can be verified
// offline.
package hdwallet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// BasePath is the account-level derivation path used by the node for
// regtest wallets (coin type 1, external chain).
const BasePath = "m/44'/1'/0'/0"

// RegtestParams carries the Dash regtest address encoding constants. Only
// the fields relevant to address derivation are populated.
var RegtestParams = chaincfg.Params{
	Name:             "dash-regtest",
	PubKeyHashAddrID: 140,
	ScriptHashAddrID: 19,
	PrivateKeyID:     239,
	HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
	HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub
	HDCoinType:       1,
}

// RootKey turns a mnemonic into the wallet's master extended key. The
// node derives seeds without a passphrase.
func RootKey(mnemonic string) (*hdkeychain.ExtendedKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	key, err := hdkeychain.NewMaster(seed, &RegtestParams)
	if err != nil {
		return nil, errors.Wrap(err, "deriving master key")
	}
	return key, nil
}

// DeriveKey walks a derivation path like m/44'/1'/0'/0/5 from the root.
func DeriveKey(root *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	if path != "m" && !strings.HasPrefix(path, "m/") {
		return nil, errors.Errorf("derivation path %q does not start at the master key", path)
	}
	key := root
	for _, part := range strings.Split(strings.TrimPrefix(path, "m"), "/") {
		if part == "" {
			continue
		}
		var index uint32
		if strings.HasSuffix(part, "'") {
			i, err := strconv.ParseUint(part[:len(part)-1], 10, 32)
			if err != nil || i >= hdkeychain.HardenedKeyStart {
				return nil, errors.Errorf("invalid path component %q", part)
			}
			index = hdkeychain.HardenedKeyStart + uint32(i)
		} else {
			i, err := strconv.ParseUint(part, 10, 32)
			if err != nil || i >= hdkeychain.HardenedKeyStart {
				return nil, errors.Errorf("invalid path component %q", part)
			}
			index = uint32(i)
		}
		var err error
		if key, err = key.Derive(index); err != nil {
			return nil, errors.Wrapf(err, "deriving %q", part)
		}
	}
	return key, nil
}

// Address returns the P2PKH address of the key at the given path.
func Address(root *hdkeychain.ExtendedKey, path string) (string, error) {
	key, err := DeriveKey(root, path)
	if err != nil {
		return "", err
	}
	addr, err := key.Address(&RegtestParams)
	if err != nil {
		return "", errors.Wrapf(err, "address at %s", path)
	}
	return addr.EncodeAddress(), nil
}

// PrivateKeyWIF returns the WIF-encoded private key at the given path.
func PrivateKeyWIF(root *hdkeychain.ExtendedKey, path string) (string, error) {
	key, err := DeriveKey(root, path)
	if err != nil {
		return "", err
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return "", errors.Wrapf(err, "private key at %s", path)
	}
	wif, err := btcutil.NewWIF(priv, &RegtestParams, true)
	if err != nil {
		return "", errors.Wrapf(err, "encoding key at %s", path)
	}
	return wif.String(), nil
}

// DeriveAddresses derives count external-chain addresses from a mnemonic
// together with their full paths.
func DeriveAddresses(mnemonic string, count int) (addrs []string, paths []string, err error) {
	root, err := RootKey(mnemonic)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < count; i++ {
		path := fmt.Sprintf("%s/%d", BasePath, i)
		addr, err := Address(root, path)
		if err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, addr)
		paths = append(paths, path)
	}
	return addrs, paths, nil
}
