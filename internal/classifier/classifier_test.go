package classifier

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlbeek/gas-repricer/internal/facts"
)

func baseFacts() facts.TxFacts {
	var ops facts.OperationCounts
	for i := 0; i < 10; i++ {
		ops.IncTotal()
	}
	return facts.TxFacts{
		Status:  facts.StatusSuccess,
		GasUsed: 21000,
		Ops:     ops,
		TouchedAccounts: []facts.AccountTouch{
			{Address: common.HexToAddress("0x01"), Nonce: 1},
		},
	}
}

func TestClassifyReturnsNilWhenIdentical(t *testing.T) {
	c := New(128)
	tf := baseFacts()
	tf.GasUsed = 128 * 21000 // keeps gas_efficiency_ratio at exactly 1.0

	div, cand, err := c.Classify(TxMeta{BlockNumber: 1}, baseFacts(), tf)
	require.NoError(t, err)
	assert.Nil(t, div)
	assert.Nil(t, cand)
}

func TestClassifyFiresStatusAndIsTotal(t *testing.T) {
	c := New(128)
	normal := baseFacts()
	normal.GasUsed = 128 * 21000
	exp := normal
	exp.Status = facts.StatusRevert

	div, _, err := c.Classify(TxMeta{BlockNumber: 5, TxIndex: 2}, normal, exp)
	require.NoError(t, err)
	require.NotNil(t, div)
	assert.Contains(t, div.Types, TypeStatus)
	assert.NotEmpty(t, div.Types)
	assert.EqualValues(t, 5, div.BlockNumber)
	assert.EqualValues(t, 2, div.TxIndex)
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := New(128)
	normal := baseFacts()
	exp := baseFacts()
	exp.Status = facts.StatusRevert

	div1, cand1, err1 := c.Classify(TxMeta{BlockNumber: 1}, normal, exp)
	require.NoError(t, err1)

	div2, cand2, err2 := c.Classify(TxMeta{BlockNumber: 1}, normal, exp)
	require.NoError(t, err2)

	require.NotNil(t, div1)
	require.NotNil(t, div2)
	assert.Equal(t, div1.Types, div2.Types)
	assert.Equal(t, div1.GasAnalysis, div2.GasAnalysis)
	assert.Equal(t, cand1 == nil, cand2 == nil)
}

func TestClassifyStateRootDivergesOnNonce(t *testing.T) {
	c := New(128)
	normal := baseFacts()
	exp := baseFacts()
	exp.TouchedAccounts = []facts.AccountTouch{
		{Address: common.HexToAddress("0x01"), Nonce: 2},
	}
	exp.GasUsed = 128 * 21000
	normal.GasUsed = 128 * 21000

	div, _, err := c.Classify(TxMeta{}, normal, exp)
	require.NoError(t, err)
	require.NotNil(t, div)
	assert.Contains(t, div.Types, TypeStateRoot)
}

func TestClassifyOutOfGasOnlyWhenNormalSucceeded(t *testing.T) {
	c := New(128)
	normal := baseFacts()
	normal.GasUsed = 128 * 21000
	exp := normal
	exp.OOG = &facts.OutOfGasInfo{Pattern: facts.PatternLoop}

	div, _, err := c.Classify(TxMeta{}, normal, exp)
	require.NoError(t, err)
	require.NotNil(t, div)
	assert.Contains(t, div.Types, TypeOutOfGas)
	require.NotNil(t, div.OOG)
	assert.Equal(t, facts.PatternLoop, div.OOG.Pattern)

	normal.Status = facts.StatusRevert
	exp.Status = facts.StatusRevert
	div2, _, err2 := c.Classify(TxMeta{}, normal, exp)
	require.NoError(t, err2)
	if div2 != nil {
		assert.NotContains(t, div2.Types, TypeOutOfGas)
	}
}

func TestClassifyEveryEmittedDivergenceHasAtLeastOneType(t *testing.T) {
	c := New(128)
	normal := baseFacts()
	normal.GasUsed = 128 * 21000

	variants := []facts.TxFacts{
		func() facts.TxFacts { f := normal; f.Status = facts.StatusRevert; return f }(),
		func() facts.TxFacts {
			f := normal
			f.Logs = []facts.EventLog{{Address: common.HexToAddress("0x02")}}
			return f
		}(),
		func() facts.TxFacts {
			f := normal
			f.Calls = []facts.CallFrame{{To: common.HexToAddress("0x03")}}
			return f
		}(),
	}

	for _, exp := range variants {
		div, _, err := c.Classify(TxMeta{}, normal, exp)
		require.NoError(t, err)
		require.NotNil(t, div)
		assert.NotEmpty(t, div.Types)
	}
}

func TestDetectGasLoopFiresOnceThenSuppressesSameKey(t *testing.T) {
	c := New(1)
	normal := baseFacts()
	normal.Calls = []facts.CallFrame{{To: common.HexToAddress("0x04")}}
	for i := 0; i < 10; i++ {
		normal.Ops.IncTotal()
	}
	exp := normal
	exp.Ops = facts.OperationCounts{}
	for i := 0; i < 5; i++ {
		exp.Ops.IncTotal()
	}

	_, cand1, err := c.Classify(TxMeta{BlockNumber: 1}, normal, exp)
	require.NoError(t, err)
	require.NotNil(t, cand1)

	_, cand2, err := c.Classify(TxMeta{BlockNumber: 2}, normal, exp)
	require.NoError(t, err)
	assert.Nil(t, cand2, "same (contract, selector) pair should be suppressed after first sighting")
}

func TestDetectGasLoopDoesNotSuppressDifferingSelector(t *testing.T) {
	c := New(1)
	normal := baseFacts()
	normal.Calls = []facts.CallFrame{{To: common.HexToAddress("0x04"), Input: []byte{0xaa, 0xbb, 0xcc, 0xdd}}}
	for i := 0; i < 10; i++ {
		normal.Ops.IncTotal()
	}
	exp := normal
	exp.Ops = facts.OperationCounts{}
	for i := 0; i < 5; i++ {
		exp.Ops.IncTotal()
	}

	_, cand1, err := c.Classify(TxMeta{BlockNumber: 1}, normal, exp)
	require.NoError(t, err)
	require.NotNil(t, cand1)
	assert.Equal(t, [4]byte{0xaa, 0xbb, 0xcc, 0xdd}, cand1.FunctionSelector)

	other := normal
	otherCall := normal.Calls[0]
	otherCall.Input = []byte{0x11, 0x22, 0x33, 0x44}
	other.Calls = []facts.CallFrame{otherCall}
	otherExp := other
	otherExp.Ops = facts.OperationCounts{}
	for i := 0; i < 5; i++ {
		otherExp.Ops.IncTotal()
	}

	_, cand2, err := c.Classify(TxMeta{BlockNumber: 3}, other, otherExp)
	require.NoError(t, err)
	require.NotNil(t, cand2, "a different function selector on the same contract is a distinct dedup key")
	assert.Equal(t, [4]byte{0x11, 0x22, 0x33, 0x44}, cand2.FunctionSelector)
}
