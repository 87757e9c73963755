// Package gaspolicy implements the experimental gas schedule described in
// spec §4.1: a uniform multiplier applied to opcode, intrinsic, memory and
// precompile costs, with a fixed-literal exemption list for call stipends.
package gaspolicy

import "math"

// defaultExemptLiteral is the canonical 2300 call stipend.
const defaultExemptLiteral = 2300

// Policy is the immutable value object describing the experimental
// schedule. Construct with New; there are no exported mutators.
type Policy struct {
	gasMultiplier      uint64
	refundMultiplier   float64
	stipendMultiplier  float64
	gasLimitMultiplier uint64
	exemptLiterals     map[uint64]struct{}
}

// Option configures a Policy at construction time.
type Option func(*params)

type params struct {
	gasMultiplier      uint64
	refundMultiplier   float64
	stipendMultiplier  float64
	gasLimitMultiplier uint64
	exemptLiterals     []uint64
}

// WithRefundMultiplier overrides the default 1.0 refund multiplier.
func WithRefundMultiplier(m float64) Option {
	return func(p *params) { p.refundMultiplier = m }
}

// WithStipendMultiplier overrides the default 1.0 stipend multiplier.
func WithStipendMultiplier(m float64) Option {
	return func(p *params) { p.stipendMultiplier = m }
}

// WithGasLimitMultiplier overrides the default, which otherwise equals the
// gas multiplier.
func WithGasLimitMultiplier(m uint64) Option {
	return func(p *params) { p.gasLimitMultiplier = m }
}

// WithExemptLiterals replaces the default {2300} exemption set.
func WithExemptLiterals(literals ...uint64) Option {
	return func(p *params) { p.exemptLiterals = literals }
}

// New constructs a Policy. It panics if gasMultiplier is zero, matching the
// specification's invariant that construction enforces gas_multiplier >= 1;
// the panic is intentional because an invalid multiplier is a programming
// error the host's own config.Validate should have already rejected.
func New(gasMultiplier uint64, opts ...Option) Policy {
	if gasMultiplier < 1 {
		panic("gaspolicy: gas_multiplier must be >= 1")
	}

	p := params{
		gasMultiplier:      gasMultiplier,
		refundMultiplier:   1.0,
		stipendMultiplier:  1.0,
		gasLimitMultiplier: gasMultiplier,
		exemptLiterals:     []uint64{defaultExemptLiteral},
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.gasLimitMultiplier < 1 {
		panic("gaspolicy: gas_limit_multiplier must be >= 1")
	}

	exempt := make(map[uint64]struct{}, len(p.exemptLiterals))
	for _, lit := range p.exemptLiterals {
		exempt[lit] = struct{}{}
	}

	return Policy{
		gasMultiplier:      p.gasMultiplier,
		refundMultiplier:   p.refundMultiplier,
		stipendMultiplier:  p.stipendMultiplier,
		gasLimitMultiplier: p.gasLimitMultiplier,
		exemptLiterals:     exempt,
	}
}

// GasMultiplier returns the configured opcode/intrinsic/memory/precompile
// multiplier.
func (p Policy) GasMultiplier() uint64 { return p.gasMultiplier }

// IsExemptLiteral reports whether a literal constant is in the exemption
// set (canonically the 2300 stipend).
func (p Policy) IsExemptLiteral(literal uint64) bool {
	_, ok := p.exemptLiterals[literal]
	return ok
}

// Apply returns the effective cost of a step whose unmodified cost is
// baseCost. If the call site provides a literal constant present in the
// exemption set (e.g. a hardcoded "gas: 2300" call argument), the literal
// itself is scaled by the stipend multiplier instead of by the uniform
// gas multiplier; this is how the 2300 stipend assumption is preserved
// under study rather than drowned by the general multiplier.
func (p Policy) Apply(baseCost uint64, literal uint64, isLiteral bool) uint64 {
	if isLiteral {
		if _, exempt := p.exemptLiterals[literal]; exempt {
			return roundUint(float64(literal) * p.stipendMultiplier)
		}
	}
	return baseCost * p.gasMultiplier
}

// ApplyRefund scales a gas refund by the configured refund multiplier.
func (p Policy) ApplyRefund(refund uint64) uint64 {
	return roundUint(float64(refund) * p.refundMultiplier)
}

// InflateGasLimit scales a transaction's gas limit by the configured
// gas-limit multiplier, producing the experimental pass's per-transaction
// budget.
func (p Policy) InflateGasLimit(limit uint64) uint64 {
	return limit * p.gasLimitMultiplier
}

func roundUint(f float64) uint64 {
	return uint64(math.Round(f))
}
