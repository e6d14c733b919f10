package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xdustinface/regtest-blockchain/internal/generator"
	"github.com/xdustinface/regtest-blockchain/internal/hdwallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func writeWalletFile(t *testing.T, export generator.WalletExport) string {
	t.Helper()
	data, err := json.Marshal(&export)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), export.WalletName+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifyWalletFile(t *testing.T) {
	addrs, paths, err := hdwallet.DeriveAddresses(testMnemonic, 4)
	if err != nil {
		t.Fatal(err)
	}
	export := generator.WalletExport{
		WalletName: "light",
		Tier:       "light",
		Mnemonic:   testMnemonic,
	}
	for i := range addrs {
		export.Addresses = append(export.Addresses, generator.AddressInfo{
			Address:   addrs[i],
			HDKeyPath: paths[i],
		})
	}
	path := writeWalletFile(t, export)
	if err := verifyWalletFile(path); err != nil {
		t.Fatal("valid export rejected:", err)
	}
}

func TestVerifyWalletFileTampered(t *testing.T) {
	addrs, paths, err := hdwallet.DeriveAddresses(testMnemonic, 2)
	if err != nil {
		t.Fatal(err)
	}
	export := generator.WalletExport{
		WalletName: "normal",
		Mnemonic:   testMnemonic,
		Addresses: []generator.AddressInfo{
			{Address: addrs[0], HDKeyPath: paths[0]},
			{Address: "yForgedAddress", HDKeyPath: paths[1]},
		},
	}
	path := writeWalletFile(t, export)
	err = verifyWalletFile(path)
	if err == nil {
		t.Fatal("tampered export accepted")
	}
	if !strings.Contains(err.Error(), "yForgedAddress") {
		t.Errorf("error does not name the bad address: %v", err)
	}
}

func TestVerifyWalletFileEmpty(t *testing.T) {
	export := generator.WalletExport{WalletName: "heavy", Mnemonic: testMnemonic}
	path := writeWalletFile(t, export)
	if err := verifyWalletFile(path); err == nil {
		t.Fatal("export without addresses accepted")
	}
}
