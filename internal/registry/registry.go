// Package registry implements spec.md section 4.4's ContractRegistry: at
// startup it loads every configured contract's ABI, builds the
// address -> LogDecoder map and the filter_set of lowercased addresses of
// interest, and resolves any OMOC-registry-managed addresses via static
// calls on IRegistry before they enter the filter set.
//
// Grounded in the teacher's ChainDataFetcher.NewChainDataFetcher /
// SetComponents: a constructor that wires several named contracts/ABIs
// into one struct before the pipeline starts.
package registry

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/money-on-chain/stable-indexer/internal/abidecoder"
	"github.com/money-on-chain/stable-indexer/internal/config"
	"github.com/money-on-chain/stable-indexer/internal/logger"
	"github.com/money-on-chain/stable-indexer/internal/model"
	"github.com/money-on-chain/stable-indexer/internal/nodeclient"
)

var log = logger.NewModuleLogger("registry")

// ContractKind distinguishes single-instance contracts from the
// multi-instance TP/CA families; handlers bind a token_involved tag to
// disambiguate which instance fired an event (spec.md section 4.4).
type ContractKind string

const (
	KindMoc            ContractKind = "Moc"
	KindMocQueue       ContractKind = "MocQueue"
	KindTC             ContractKind = "TC"
	KindTP             ContractKind = "TP"
	KindCA             ContractKind = "CA"
	KindFeeToken       ContractKind = "FeeToken"
	KindFastBtcBridge  ContractKind = "FastBtcBridge"
	KindDelayMachine   ContractKind = "DelayMachine"
	KindSupporters     ContractKind = "Supporters"
	KindVestingFactory ContractKind = "VestingFactory"
	KindVotingMachine  ContractKind = "VotingMachine"
	KindStakingMachine ContractKind = "StakingMachine"
	KindIncentiveV2    ContractKind = "IncentiveV2"
)

// Contract is one registered contract: its address, ABI-backed decoder,
// kind, and (for TP/CA) its position in the configured list.
type Contract struct {
	Address common.Address
	Kind    ContractKind
	Tag     string // e.g. "TC", "TP_0", "CA_1", "FeeToken"
	Index   int    // position within TP/CA list, -1 for single-instance contracts
	Decoder *abidecoder.LogDecoder
	ABI     *abi.ABI
}

// ABILoader returns the raw ABI JSON for a contract name. cmd/indexer
// always passes flipmoney.Load; config.app_project is not consulted.
type ABILoader func(contractName string) (string, error)

// GovernanceKey names one OMOC-registry-managed contract to resolve via
// IRegistry.getAddress at startup (spec.md section 4.4's "optional OMOC
// governance contracts"): SymbolicKey is the bytes32 registry key (the
// original source's RegistryConstants entries), Name is the ABI/contract
// name, and Kind is its registered ContractKind.
type GovernanceKey struct {
	SymbolicKey string
	Name        string
	Kind        ContractKind
}

type ContractRegistry struct {
	byAddress map[string]*Contract
	filterSet model.AddressSet
	contracts []*Contract

	mocQueueABI *abi.ABI
}

// iRegistryABI is the minimal ABI needed to resolve a symbolic key to an
// address via the OMOC governance registry's getAddress(bytes32) method.
const iRegistryABI = `[{"constant":true,"inputs":[{"name":"_key","type":"bytes32"}],"name":"getAddress","outputs":[{"name":"","type":"address"}],"payable":false,"stateMutability":"view","type":"function"}]`

// New builds the registry from configuration: it loads the ABI for every
// configured contract, resolves any IRegistry-keyed governance addresses,
// and computes the filter_set.
func New(ctx context.Context, cfg *config.Config, nc nodeclient.NodeClient, loadABI ABILoader, governanceKeys []GovernanceKey) (*ContractRegistry, error) {
	r := &ContractRegistry{
		byAddress: make(map[string]*Contract),
		filterSet: model.AddressSet{},
	}

	if err := r.register(loadABI, KindMoc, "Moc", cfg.Addresses.Moc, -1); err != nil {
		return nil, err
	}
	mq, err := r.register(loadABI, KindMocQueue, "MocQueue", cfg.Addresses.MocQueue, -1)
	if err != nil {
		return nil, err
	}
	r.mocQueueABI = mq.ABI

	if _, err := r.register(loadABI, KindTC, "TC", cfg.Addresses.TC, -1); err != nil {
		return nil, err
	}
	for i, addr := range cfg.Addresses.TP {
		if _, err := r.register(loadABI, KindTP, "TP", addr, i); err != nil {
			return nil, err
		}
	}
	for i, addr := range cfg.Addresses.CA {
		if _, err := r.register(loadABI, KindCA, "CA", addr, i); err != nil {
			return nil, err
		}
	}
	if cfg.Addresses.FeeToken != "" {
		if _, err := r.register(loadABI, KindFeeToken, "FeeToken", cfg.Addresses.FeeToken, -1); err != nil {
			return nil, err
		}
	}
	if cfg.Addresses.FastBtcBridge != "" {
		if _, err := r.register(loadABI, KindFastBtcBridge, "FastBtcBridge", cfg.Addresses.FastBtcBridge, -1); err != nil {
			return nil, err
		}
	}
	// IncentiveV2 is loaded directly from configuration, not resolved via
	// IRegistry, matching the original source's "if config.addresses.IncentiveV2"
	// direct-load path (tasks.py).
	if cfg.Addresses.IncentiveV2 != "" {
		if _, err := r.register(loadABI, KindIncentiveV2, "IncentiveV2", cfg.Addresses.IncentiveV2, -1); err != nil {
			return nil, err
		}
	}

	if cfg.Addresses.IRegistry != "" && len(governanceKeys) > 0 {
		if err := r.resolveRegistryAddresses(ctx, nc, cfg.Addresses.IRegistry, governanceKeys, loadABI); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *ContractRegistry) register(loadABI ABILoader, kind ContractKind, name, addrHex string, index int) (*Contract, error) {
	if addrHex == "" {
		return nil, errors.Errorf("registry: no address configured for %s", name)
	}
	rawABI, err := loadABI(name)
	if err != nil {
		return nil, errors.Wrapf(err, "loading ABI for %s", name)
	}
	dec, err := abidecoder.New(rawABI)
	if err != nil {
		return nil, errors.Wrapf(err, "building decoder for %s", name)
	}
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing ABI JSON for %s", name)
	}

	addr := common.HexToAddress(addrHex)
	tag := name
	if index >= 0 {
		tag = name // caller overrides with indexed tag below when needed
	}
	c := &Contract{Address: addr, Kind: kind, Tag: tag, Index: index, Decoder: dec, ABI: &parsed}
	if index >= 0 {
		c.Tag = tagFor(kind, index)
	}

	r.byAddress[model.Lower(addr)] = c
	r.filterSet.Add(addr)
	r.contracts = append(r.contracts, c)
	log.Info("registered contract", "name", name, "tag", c.Tag, "address", model.Lower(addr))
	return c, nil
}

func tagFor(kind ContractKind, index int) string {
	switch kind {
	case KindTP:
		return "TP_" + itoa(index)
	case KindCA:
		return "CA_" + itoa(index)
	default:
		return string(kind)
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	n := i
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// resolveRegistryAddresses performs the startup static-calls on IRegistry
// for every governance key configured, registering the resolved address
// under its real ContractKind as an additional contract so it joins the
// filter_set (spec.md section 4.4).
func (r *ContractRegistry) resolveRegistryAddresses(ctx context.Context, nc nodeclient.NodeClient, iRegistryAddrHex string, governanceKeys []GovernanceKey, loadABI ABILoader) error {
	parsed, err := abi.JSON(strings.NewReader(iRegistryABI))
	if err != nil {
		return errors.Wrap(err, "parsing IRegistry ABI")
	}
	iRegistryAddr := common.HexToAddress(iRegistryAddrHex)

	for _, gk := range governanceKeys {
		if r.hasTag(gk.Name) {
			log.Debug("contract already registered from direct configuration, skipping registry lookup", "name", gk.Name)
			continue
		}

		var key [32]byte
		copy(key[:], []byte(gk.SymbolicKey))

		var resolved common.Address
		if err := nc.Call(ctx, &parsed, iRegistryAddr, "getAddress", &resolved, key); err != nil {
			return errors.Wrapf(err, "resolving registry key %s", gk.SymbolicKey)
		}
		if resolved == model.NullAddress {
			log.Warn("registry key resolved to the zero address, skipping", "key", gk.SymbolicKey)
			continue
		}
		if _, err := r.register(loadABI, gk.Kind, gk.Name, resolved.Hex(), -1); err != nil {
			return err
		}
	}
	return nil
}

func (r *ContractRegistry) hasTag(tag string) bool {
	for _, c := range r.contracts {
		if c.Tag == tag {
			return true
		}
	}
	return false
}

// Lookup returns the registered Contract for a lowercased address, if any.
func (r *ContractRegistry) Lookup(lowerAddress string) (*Contract, bool) {
	c, ok := r.byAddress[lowerAddress]
	return c, ok
}

// FilterSet returns the union of every registered lowercased address,
// spec.md section 2 item 6.
func (r *ContractRegistry) FilterSet() model.AddressSet {
	return r.filterSet
}

// MocQueueABI returns the parsed MocQueue ABI, used by the OperationQueued
// handler to static-call the operations(operId_) getter (spec.md section
// 4.3); the per-kind operationsMint.../operationsRedeem.../operationsSwap...
// getters are not called.
func (r *ContractRegistry) MocQueueABI() *abi.ABI {
	return r.mocQueueABI
}

func (r *ContractRegistry) MocQueueAddress() (common.Address, bool) {
	for _, c := range r.contracts {
		if c.Kind == KindMocQueue {
			return c.Address, true
		}
	}
	return common.Address{}, false
}

// TPIndexOf returns the configured position of a TP address. The
// dispatcher does not call it: tpIndex/tpFromIndex/tpToIndex are taken from
// the MocQueue operations getter's response.
func (r *ContractRegistry) TPIndexOf(addr common.Address) (int, bool) {
	c, ok := r.byAddress[model.Lower(addr)]
	if !ok || c.Kind != KindTP {
		return 0, false
	}
	return c.Index, true
}

// Contracts returns every registered contract, for diagnostics/tests.
func (r *ContractRegistry) Contracts() []*Contract {
	return r.contracts
}
