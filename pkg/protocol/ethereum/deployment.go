package ethereum

import (
	"context"
	"strings"

	"github.com/84hero/chain-scanner/pkg/contract"
	"github.com/84hero/chain-scanner/pkg/numeric"
	"github.com/84hero/chain-scanner/pkg/protocol"
	"github.com/84hero/chain-scanner/pkg/record"
	"github.com/84hero/chain-scanner/pkg/rpc"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// DeployeeInfo implements protocol.Inspector. A transaction deploys a
// contract when it was sent to the deployer and one of its logs carries a
// watched event topic; the creation field of that log, by default its first
// data word, is the new address.
func (a *Adapter) DeployeeInfo(ctx context.Context, tx record.Record) (record.Record, error) {
	d := a.deployment
	if d == nil {
		return nil, protocol.ErrNotConfigured
	}
	hash := tx.String("hash")

	receipt, err := a.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		log.Debug("Receipt not available", "tx", hash)
		return nil, nil
	}
	if !sameHex(receipt.String("to"), d.address) {
		return nil, nil
	}

	deployee, event, ok := a.findDeployee(receipt)
	if !ok {
		return nil, nil
	}
	log.Debug("Deployment detected", "tx", hash, "event", event, "address", deployee)

	info := record.Record{}
	if d.deployee != nil {
		for _, p := range d.deployee.ConstantProperties() {
			v, err := a.CallConstantFunction(ctx, deployee, p.Name, nil, nil, p.Outputs[0].Type)
			if err != nil {
				if isTransportError(err) {
					return nil, err
				}
				log.Warn("Skipping deployee property", "contract", d.deployee.Name, "function", p.Name, "err", err)
				continue
			}
			info[p.Name] = v
		}
	}
	for _, f := range d.deployer.AddressAccessors() {
		v, err := a.CallConstantFunction(ctx, d.address, f.Name, []string{"address"}, []string{deployee}, f.Outputs[0].Type)
		if err != nil {
			if isTransportError(err) {
				return nil, err
			}
			log.Warn("Skipping deployer accessor", "contract", d.deployer.Name, "function", f.Name, "err", err)
			continue
		}
		info[accessorKey(f)] = v
	}
	info["address"] = deployee
	return info, nil
}

// findDeployee returns the deployed address of the first log carrying a
// watched topic.
func (a *Adapter) findDeployee(receipt record.Record) (string, string, bool) {
	for _, l := range protocol.ReceiptLogs(receipt) {
		for _, topic := range l.Topics {
			ev, ok := a.deployment.watched[strings.ToLower(numeric.WithHexPrefix(topic))]
			if !ok {
				continue
			}
			v, err := a.codec.DecodeValue("address", l.Data, ev.word)
			if err != nil {
				log.Warn("Cannot decode deployed address", "event", ev.name, "data", l.Data, "err", err)
				break
			}
			return v.(string), ev.name, true
		}
	}
	return "", "", false
}

func accessorKey(f contract.Entity) string {
	if name := f.Outputs[0].Name; name != "" {
		return name
	}
	return f.Name
}

// isTransportError reports failures worth retrying the whole block for.
// Errors answered by the node, such as a revert, only skip the property.
func isTransportError(err error) bool {
	var ce *rpc.CallError
	if !errors.As(err, &ce) {
		return false
	}
	_, answered := rpc.ErrorCode(err)
	return !answered
}
