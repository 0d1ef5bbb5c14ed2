package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Conditions is the opaque input handed to an Oracle. The Dance fills in
// the identifying fields; Attributes carry caller-defined policy inputs
// whose meaning belongs to the oracle.
type Conditions struct {
	SessionID   string            `json:"session_id"`
	Role        string            `json:"role"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Project     string            `json:"project,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Encode serializes the conditions for oracles that take raw bytes.
func (c Conditions) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode conditions: %w", err)
	}
	return b, nil
}

// Result is an oracle's verdict.
type Result struct {
	Accepted bool
	Reason   string
}

// Accept builds an accepting result.
func Accept(reason string) Result { return Result{Accepted: true, Reason: reason} }

// Deny builds a denying result.
func Deny(reason string) Result { return Result{Accepted: false, Reason: reason} }

// Oracle evaluates whether a completed exchange may be declared successful.
// An error means the oracle could not decide; a denial is a Result.
type Oracle interface {
	Evaluate(ctx context.Context, conditions Conditions) (Result, error)
}

// Static always returns the same result.
type Static struct {
	Result Result
}

// AllowAll accepts every Dance.
var AllowAll Oracle = Static{Result: Accept("allow-all")}

// DenyAll denies every Dance.
var DenyAll Oracle = Static{Result: Deny("deny-all")}

// Evaluate returns the fixed result.
func (s Static) Evaluate(ctx context.Context, _ Conditions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.Result, nil
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, conditions Conditions) (Result, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, conditions Conditions) (Result, error) {
	return f(ctx, conditions)
}
