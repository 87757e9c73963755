package harness

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlbeek/gas-repricer/internal/classifier"
)

func classifyScenario(t *testing.T, p ScenarioPair) (*classifier.Divergence, *classifier.GasLoopCandidate) {
	t.Helper()
	cls := classifier.New(128)
	meta := classifier.TxMeta{BlockNumber: 1, TxIndex: 0, TxHash: common.HexToHash("0x01")}
	div, loop, err := cls.Classify(meta, p.Normal, p.Experiment)
	require.NoError(t, err)
	return div, loop
}

func TestScenarioS1NoDivergence(t *testing.T) {
	div, _ := classifyScenario(t, ScenarioS1())
	assert.Nil(t, div)
}

func TestScenarioS2OutOfGasAndStatus(t *testing.T) {
	div, _ := classifyScenario(t, ScenarioS2())
	require.NotNil(t, div)
	assert.Contains(t, div.Types, classifier.TypeOutOfGas)
	assert.Contains(t, div.Types, classifier.TypeStatus)
}

func TestScenarioS3GasPatternAndStateRoot(t *testing.T) {
	p := ScenarioS3()
	div, _ := classifyScenario(t, p)
	require.NotNil(t, div)
	assert.Contains(t, div.Types, classifier.TypeGasPattern)
	assert.Contains(t, div.Types, classifier.TypeStateRoot)
	assert.Greater(t, div.GasAnalysis.GasEfficiencyRatio, 1.05)
}

func TestScenarioS4CallTreeAndStatus(t *testing.T) {
	div, _ := classifyScenario(t, ScenarioS4())
	require.NotNil(t, div)
	assert.Contains(t, div.Types, classifier.TypeCallTree)
	assert.Contains(t, div.Types, classifier.TypeStatus)
}

func TestScenarioS5NoDivergenceUnderThreshold(t *testing.T) {
	div, _ := classifyScenario(t, ScenarioS5())
	assert.Nil(t, div)
}
