// Package audit defines the policy boundary consulted at the end of a Dance.
//
// The Dance treats an [Oracle] as a black box returning accept or deny plus
// a reason. This package ships trivial oracles ([Static], [Func]) and
// [EthOracle], which asks a policy contract's view function.
package audit
