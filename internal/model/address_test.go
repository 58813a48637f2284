package model

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNormalizeAddressRejectsZeroAddress(t *testing.T) {
	if _, ok := NormalizeAddress(make([]byte, 20)); ok {
		t.Fatal("expected the all-zero address to be rejected")
	}
}

func TestNormalizeAddressHandles32ByteZeroPadding(t *testing.T) {
	raw := make([]byte, 32)
	want := common.HexToAddress("0x000000000000000000000000000000000000aa")
	copy(raw[12:], want.Bytes())

	got, ok := NormalizeAddress(raw)
	if !ok {
		t.Fatal("expected a 32-byte zero-padded address to normalize successfully")
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}
}

func TestLowerIsLowercaseAndPrefixed(t *testing.T) {
	addr := common.HexToAddress("0xABCDEF000000000000000000000000000000000A")
	got := Lower(addr)
	if got != "0xabcdef000000000000000000000000000000000a" {
		t.Fatalf("unexpected lowercased address: %s", got)
	}
}

func TestAddressSetMembership(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111a")
	b := common.HexToAddress("0x2222222222222222222222222222222222222b")
	set := NewAddressSet(a)
	if !set.Contains(a) {
		t.Fatal("expected set to contain a")
	}
	if set.Contains(b) {
		t.Fatal("expected set to not contain b before Add")
	}
	set.Add(b)
	if !set.Contains(b) {
		t.Fatal("expected set to contain b after Add")
	}
	if !set.ContainsHex(Lower(a)) {
		t.Fatal("expected ContainsHex to agree with Contains")
	}
}
