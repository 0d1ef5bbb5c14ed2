package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// PolicyABI is the interface a policy contract must expose:
//
//	function evaluate(bytes conditions) view returns (bool accepted, string reason)
//
// The conditions argument is the JSON encoding of Conditions.
const PolicyABI = `[{"type":"function","name":"evaluate","stateMutability":"view",` +
	`"inputs":[{"name":"conditions","type":"bytes"}],` +
	`"outputs":[{"name":"accepted","type":"bool"},{"name":"reason","type":"string"}]}]`

// ErrMalformedVerdict indicates the contract returned an unexpected shape.
var ErrMalformedVerdict = errors.New("policy contract returned malformed verdict")

// EthOracle consults a policy contract through an eth_call.
type EthOracle struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewEthOracle binds to the policy contract at address. Any
// bind.ContractCaller works, including *ethclient.Client.
func NewEthOracle(caller bind.ContractCaller, address common.Address) (*EthOracle, error) {
	parsed, err := abi.JSON(strings.NewReader(PolicyABI))
	if err != nil {
		return nil, fmt.Errorf("parse policy abi: %w", err)
	}
	return &EthOracle{
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
		address:  address,
	}, nil
}

// Evaluate calls evaluate(conditions) on the contract.
func (o *EthOracle) Evaluate(ctx context.Context, conditions Conditions) (Result, error) {
	data, err := conditions.Encode()
	if err != nil {
		return Result{}, err
	}

	var out []interface{}
	if err := o.contract.Call(&bind.CallOpts{Context: ctx}, &out, "evaluate", data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EthOracle.Evaluate",
			"contract": o.address.Hex(),
			"error":    err.Error(),
		}).Warn("Policy contract call failed")
		return Result{}, fmt.Errorf("policy call: %w", err)
	}

	if len(out) != 2 {
		return Result{}, fmt.Errorf("%w: %d values", ErrMalformedVerdict, len(out))
	}
	accepted, ok := out[0].(bool)
	if !ok {
		return Result{}, fmt.Errorf("%w: accepted is %T", ErrMalformedVerdict, out[0])
	}
	reason, ok := out[1].(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: reason is %T", ErrMalformedVerdict, out[1])
	}

	logrus.WithFields(logrus.Fields{
		"function":   "EthOracle.Evaluate",
		"contract":   o.address.Hex(),
		"session_id": conditions.SessionID,
		"accepted":   accepted,
	}).Debug("Policy contract verdict")

	return Result{Accepted: accepted, Reason: reason}, nil
}
