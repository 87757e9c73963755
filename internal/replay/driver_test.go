package replay

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlbeek/gas-repricer/internal/facts"
)

func TestErrSkipUnwrapAndMessage(t *testing.T) {
	cause := errors.New("snapshot unavailable")
	err := &ErrSkip{Block: 42, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "snapshot unavailable")
}

func TestDeriveStatusSuccess(t *testing.T) {
	result := &core.ExecutionResult{Err: nil}
	assert.Equal(t, facts.StatusSuccess, deriveStatus(result))
}

func TestDeriveStatusRevert(t *testing.T) {
	result := &core.ExecutionResult{Err: vm.ErrExecutionReverted}
	assert.Equal(t, facts.StatusRevert, deriveStatus(result))
}

func TestDeriveStatusHaltOnOtherVMError(t *testing.T) {
	result := &core.ExecutionResult{Err: vm.ErrOutOfGas}
	assert.Equal(t, facts.StatusHalt, deriveStatus(result))
}

func TestApplyReceiptCopiesGasAndStatus(t *testing.T) {
	tf := facts.TxFacts{}
	applyReceipt(&tf, &types.Receipt{GasUsed: 21000, Status: types.ReceiptStatusSuccessful})
	assert.EqualValues(t, 21000, tf.GasUsed)
	assert.Equal(t, facts.StatusSuccess, tf.Status)

	applyReceipt(&tf, &types.Receipt{GasUsed: 50000, Status: types.ReceiptStatusFailed})
	assert.EqualValues(t, 50000, tf.GasUsed)
	assert.Equal(t, facts.StatusRevert, tf.Status)
}

func TestAnalyzeSkipsGenesisBlock(t *testing.T) {
	d := &Driver{}
	header := &types.Header{Number: big.NewInt(0)}
	block := types.NewBlockWithHeader(header)

	_, err := d.Analyze(nil, block, nil)
	require.Error(t, err)

	var skip *ErrSkip
	require.ErrorAs(t, err, &skip)
	assert.EqualValues(t, 0, skip.Block)
}
