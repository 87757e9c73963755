package tracerhooks

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StateReader is the minimal slice of go-ethereum's tracing.StateDB that
// both inspectors need at transaction end to compute the canonical state
// fingerprint. It mirrors core/tracing's StateDB interface rather than
// importing the full *state.StateDB so the inspectors stay testable
// against the in-memory fakes in internal/harness.
type StateReader interface {
	GetBalance(common.Address) *uint256.Int
	GetNonce(common.Address) uint64
	GetCodeHash(common.Address) common.Hash
	GetState(common.Address, common.Hash) common.Hash
	GetTransientState(common.Address, common.Hash) common.Hash
}
