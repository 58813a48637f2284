// Package model holds the persisted document shapes shared by every
// pipeline stage: raw transactions, operations, per-event snapshots, the
// FastBtcBridge peg-out ledger and the indexer checkpoint.
package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NullAddress is the all-zero address. Event fields that decode to it are
// rejected by NormalizeAddress and turned into the Go zero value (ok=false)
// rather than persisted as a real address.
var NullAddress = common.Address{}

// NormalizeAddress trims a log-field address to its 20-byte form, lowercases
// it and rejects the all-zero sentinel. Event fields sometimes arrive
// zero-padded to 32 bytes (0x000...<20 bytes>); common.BytesToAddress
// already takes the trailing 20 bytes, so padding is handled for free.
func NormalizeAddress(raw []byte) (common.Address, bool) {
	addr := common.BytesToAddress(raw)
	if addr == NullAddress {
		return common.Address{}, false
	}
	return addr, true
}

// Lower returns the lowercase 0x-prefixed hex form used for filter-set
// membership and document keys.
func Lower(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// AddressSet is a lowercased-address membership set, the filter_set of
// spec.md section 2 item 6.
type AddressSet map[string]struct{}

func NewAddressSet(addrs ...common.Address) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s[Lower(a)] = struct{}{}
	}
	return s
}

func (s AddressSet) Add(addr common.Address) {
	s[Lower(addr)] = struct{}{}
}

func (s AddressSet) Contains(addr common.Address) bool {
	_, ok := s[Lower(addr)]
	return ok
}

func (s AddressSet) ContainsHex(lowerHex string) bool {
	_, ok := s[lowerHex]
	return ok
}
