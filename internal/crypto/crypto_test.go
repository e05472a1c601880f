package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	testKey     = "0000000000000000000000000000000000000000000000000000000000000001"
	testAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if strings.Contains(string(blob), testKey) {
		t.Fatal("key file contains plaintext key")
	}
	if !strings.Contains(string(blob), testAddress) {
		t.Fatalf("key file should record the address: %s", blob)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("got %s, want %s", got, testKey)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password should fail")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Fatal("empty password should fail")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("short key should fail")
	}
	if _, err := EncryptKey("zz", "pw"); err == nil {
		t.Fatal("non-hex key should fail")
	}
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	if err != nil || got != testKey {
		t.Fatalf("raw key: %q %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "wallet.enc")
	if err := WriteKeyFile(path, testKey, "pw"); err != nil {
		t.Fatalf("WriteKeyFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key file mode %v", info.Mode().Perm())
	}
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil || got != testKey {
		t.Fatalf("encrypted key: %q %v", got, err)
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("empty config should fail")
	}
}

func TestSignerAddressAndSignTx(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.Address().Hex() != testAddress {
		t.Fatalf("address = %s, want %s", s.Address().Hex(), testAddress)
	}

	to := common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(30_000_000_000),
	})
	signed, err := s.SignTx(tx)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), signed)
	if err != nil {
		t.Fatalf("Sender: %v", err)
	}
	if from != s.Address() {
		t.Fatalf("recovered %s, want %s", from.Hex(), s.Address().Hex())
	}
	if signed.ChainId().Int64() != 137 {
		t.Fatalf("chain id = %s", signed.ChainId())
	}
}
