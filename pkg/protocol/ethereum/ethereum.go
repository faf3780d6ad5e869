// Package ethereum implements the protocol adapter for Ethereum style
// JSON-RPC endpoints, including contract event decoding and detection of
// contracts deployed through a factory.
package ethereum

import (
	"context"
	"strings"

	"github.com/84hero/chain-scanner/pkg/contract"
	"github.com/84hero/chain-scanner/pkg/decoder"
	"github.com/84hero/chain-scanner/pkg/numeric"
	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/84hero/chain-scanner/pkg/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// Block fields converted to decimal.
var blockNumberKeys = map[string]bool{
	"number":          true,
	"difficulty":      true,
	"totalDifficulty": true,
	"size":            true,
	"gasLimit":        true,
	"gasUsed":         true,
	"timestamp":       true,
	"baseFeePerGas":   true,
	"blobGasUsed":     true,
	"excessBlobGas":   true,
}

// Transaction fields converted to decimal.
var txNumberKeys = map[string]bool{
	"nonce":                true,
	"blockNumber":          true,
	"transactionIndex":     true,
	"gasPrice":             true,
	"gas":                  true,
	"value":                true,
	"maxFeePerGas":         true,
	"maxPriorityFeePerGas": true,
	"maxFeePerBlobGas":     true,
	"chainId":              true,
	"type":                 true,
	"v":                    true,
	"yParity":              true,
}

// Opaque byte strings. Canonicalizing them would drop leading zero bytes.
var rawKeys = map[string]bool{
	"input":     true,
	"extraData": true,
	"logsBloom": true,
}

// DeploymentConfig enables contract granularity.
type DeploymentConfig struct {
	DeployerContract string
	DeployeeContract string
	WatchedEvents    []string
	// CreationField names the event input holding the deployed address.
	// The first data word is used when the event has no such input.
	CreationField string
}

// EventConfig enables event granularity.
type EventConfig struct {
	Contract string
	Event    string
}

// Config configures the adapter. Nil sections disable the matching
// inspection.
type Config struct {
	NetworkID  string
	Deployment *DeploymentConfig
	Event      *EventConfig
}

type deployment struct {
	deployer *contract.Descriptor
	deployee *contract.Descriptor
	address  string
	watched  map[string]watchedEvent // by topic
	filter   *logFilter
}

type watchedEvent struct {
	name string
	word int // data word holding the deployed address
}

type eventTarget struct {
	entity   contract.Entity
	address  string
	selector string
	filter   *logFilter
}

// Adapter talks to an Ethereum node.
type Adapter struct {
	caller     rpc.Caller
	codec      *decoder.Codec
	registry   *contract.Registry
	networkID  string
	deployment *deployment
	event      *eventTarget
}

var (
	_ protocol.Protocol  = (*Adapter)(nil)
	_ protocol.Inspector = (*Adapter)(nil)
	_ protocol.Prefilter = (*Adapter)(nil)
)

// New creates an adapter. Contract descriptors named by cfg are loaded from
// registry and every watched selector is computed here.
func New(caller rpc.Caller, registry *contract.Registry, cfg Config) (*Adapter, error) {
	a := &Adapter{
		caller:    caller,
		codec:     decoder.New(),
		registry:  registry,
		networkID: cfg.NetworkID,
	}
	if a.networkID == "" {
		a.networkID = "1"
	}

	if cfg.Deployment != nil {
		d, err := a.loadDeployment(cfg.Deployment)
		if err != nil {
			return nil, err
		}
		a.deployment = d
	}
	if cfg.Event != nil {
		e, err := a.loadEvent(cfg.Event)
		if err != nil {
			return nil, err
		}
		a.event = e
	}
	return a, nil
}

func (a *Adapter) loadDeployment(cfg *DeploymentConfig) (*deployment, error) {
	if a.registry == nil {
		return nil, errors.New("deployment detection requires a contract registry")
	}
	deployer, err := a.registry.Load(cfg.DeployerContract)
	if err != nil {
		return nil, err
	}
	address, err := a.registry.ContractAddress(cfg.DeployerContract, a.networkID)
	if err != nil {
		return nil, err
	}
	d := &deployment{
		deployer: deployer,
		address:  address,
		watched:  make(map[string]watchedEvent, len(cfg.WatchedEvents)),
		filter:   &logFilter{},
	}
	if cfg.DeployeeContract != "" {
		if d.deployee, err = a.registry.Load(cfg.DeployeeContract); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.WatchedEvents {
		ev, ok := deployer.Event(name)
		if !ok {
			return nil, errors.Errorf("contract %s has no event %s", deployer.Name, name)
		}
		topic, err := a.eventTopic(deployer, ev)
		if err != nil {
			return nil, err
		}
		d.watched[topic] = watchedEvent{name: ev.Name, word: creationWord(ev, cfg.CreationField)}
		d.filter.topics = append(d.filter.topics, common.HexToHash(topic))
	}
	return d, nil
}

// creationWord returns the data word index of the named non-indexed input.
func creationWord(ev contract.Entity, field string) int {
	word := 0
	for _, in := range ev.Inputs {
		if in.Indexed {
			continue
		}
		if in.Name == field {
			return word
		}
		word++
	}
	return 0
}

// eventTopic computes the topic of ev and checks it against the topic the
// descriptor ABI yields.
func (a *Adapter) eventTopic(desc *contract.Descriptor, ev contract.Entity) (string, error) {
	topic := a.EventSignature(ev.Name, decoder.Types(ev.Inputs))
	if id, ok := desc.EventID(ev.Name); ok && id != common.HexToHash(topic) {
		return "", errors.Errorf("contract %s: event %s topic %s does not match abi topic %s", desc.Name, ev.Name, topic, id.Hex())
	}
	return topic, nil
}

func (a *Adapter) loadEvent(cfg *EventConfig) (*eventTarget, error) {
	if a.registry == nil {
		return nil, errors.New("event decoding requires a contract registry")
	}
	desc, err := a.registry.Load(cfg.Contract)
	if err != nil {
		return nil, err
	}
	ev, ok := desc.Event(cfg.Event)
	if !ok {
		return nil, errors.Errorf("contract %s has no event %s", desc.Name, cfg.Event)
	}
	address, err := a.registry.ContractAddress(cfg.Contract, a.networkID)
	if err != nil {
		return nil, err
	}
	selector, err := a.eventTopic(desc, ev)
	if err != nil {
		return nil, err
	}
	return &eventTarget{
		entity:   ev,
		address:  address,
		selector: selector,
		filter: &logFilter{
			contracts: []common.Address{common.HexToAddress(address)},
			topics:    []common.Hash{common.HexToHash(selector)},
		},
	}, nil
}

// Name implements protocol.Protocol.
func (a *Adapter) Name() string { return protocol.Ethereum }

// GetBlockCount returns eth_blockNumber.
func (a *Adapter) GetBlockCount(ctx context.Context) (uint64, error) {
	var hex string
	if err := a.caller.Call(ctx, &hex, "eth_blockNumber"); err != nil {
		return 0, err
	}
	n, err := numeric.HexToUint64(hex)
	if err != nil {
		return 0, errors.Wrap(err, "eth_blockNumber")
	}
	return n, nil
}

// GetBlock fetches a block with full transactions and normalizes it.
func (a *Adapter) GetBlock(ctx context.Context, height uint64) (*protocol.Block, bool, error) {
	rec, err := rpc.CallRecord(ctx, a.caller, "eth_getBlockByNumber", numeric.Uint64ToHex(height), true)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}

	txs := protocol.Records(rec["transactions"])
	delete(rec, "transactions")

	normalize(rec, blockNumberKeys, height)
	for _, tx := range txs {
		normalize(tx, txNumberKeys, height)
	}

	block := &protocol.Block{
		Height:       height,
		Hash:         rec.String("hash"),
		Data:         rec,
		Transactions: txs,
	}
	if ts, ok := rec["timestamp"].(int64); ok {
		block.Timestamp = protocol.FormatTimestamp(ts)
	} else {
		log.Warn("Block has no usable timestamp", "height", height, "timestamp", rec["timestamp"])
	}
	return block, true, nil
}

// normalize rewrites hex strings in place. Values that fail to convert are
// kept as received.
func normalize(rec record.Record, numberKeys map[string]bool, height uint64) {
	for k, v := range rec {
		s, ok := v.(string)
		if !ok || rawKeys[k] {
			continue
		}
		var (
			out any
			err error
		)
		if numberKeys[k] {
			out, err = numeric.HexToDecimal(s)
		} else {
			out, err = numeric.HexToHex(s)
		}
		if err != nil {
			log.Debug("Field left unconverted", "height", height, "field", k, "value", s, "err", err)
			continue
		}
		rec[k] = out
	}
}

// GetTransactionReceipt returns the raw receipt, or nil when the node has
// none.
func (a *Adapter) GetTransactionReceipt(ctx context.Context, txHash string) (record.Record, error) {
	return rpc.CallRecord(ctx, a.caller, "eth_getTransactionReceipt", numeric.WithHexPrefix(txHash))
}

// EventSignature returns the 0x-prefixed topic of an event.
func (a *Adapter) EventSignature(name string, types []string) string {
	return a.codec.ComputeSelector(name, types).Topic()
}

// ContractAddress returns the address of a registered contract.
func (a *Adapter) ContractAddress(name, networkID string) (string, error) {
	if a.registry == nil {
		return "", errors.New("no contract registry")
	}
	return a.registry.ContractAddress(name, networkID)
}

// DecodeEventData decodes the first log of txHash's receipt emitted by
// contractAddress whose first topic is selector. It returns an empty record
// when there is none.
func (a *Adapter) DecodeEventData(ctx context.Context, contractAddress, selector string, inputs []decoder.Param, txHash string) (record.Record, error) {
	receipt, err := a.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	for _, l := range protocol.ReceiptLogs(receipt) {
		if !sameHex(l.Address, contractAddress) || len(l.Topics) == 0 || !sameHex(l.Topics[0], selector) {
			continue
		}
		return a.codec.DecodeLog(inputs, l.Topics, l.Data)
	}
	return record.Record{}, nil
}

// CallConstantFunction runs a read-only call against the latest block and
// decodes its single return value.
func (a *Adapter) CallConstantFunction(ctx context.Context, address, function string, argTypes, argValues []string, returnType string) (any, error) {
	data, err := a.codec.EncodeCall(function, argTypes, argValues)
	if err != nil {
		return nil, err
	}
	call := map[string]string{
		"to":   numeric.WithHexPrefix(address),
		"data": data,
	}
	var out string
	if err := a.caller.Call(ctx, &out, "eth_call", call, "latest"); err != nil {
		return nil, err
	}
	return a.codec.DecodeValue(returnType, out, 0)
}

// DecodeEvent implements protocol.Inspector.
func (a *Adapter) DecodeEvent(ctx context.Context, tx record.Record) (record.Record, error) {
	if a.event == nil {
		return nil, protocol.ErrNotConfigured
	}
	hash := tx.String("hash")
	fields, err := a.DecodeEventData(ctx, a.event.address, a.event.selector, a.event.entity.Inputs, hash)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	fields["event"] = a.event.entity.Name
	fields["contract"] = a.event.address
	fields["transactionHash"] = numeric.WithHexPrefix(hash)
	fields["blockNumber"] = tx["blockNumber"]
	return fields, nil
}

func sameHex(a, b string) bool {
	return strings.EqualFold(numeric.StripHexPrefix(a), numeric.StripHexPrefix(b))
}
