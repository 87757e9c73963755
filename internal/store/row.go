package store

import (
	"encoding/json"
	"sort"

	"github.com/carlbeek/gas-repricer/internal/classifier"
)

type row struct {
	blockNumber         uint64
	txIndex             int
	txHash              []byte
	timestamp           uint64
	types               string
	normalGasUsed       uint64
	experimentalGasUsed uint64
	gasMultiplier       uint64
	gasEfficiencyRatio  float64
	normalOpsJSON       *string
	experimentalOpsJSON *string
	locationJSON        *string
	oogJSON             *string
	callTreesJSON       *string
	eventLogsJSON       *string
}

func toRow(d *classifier.Divergence) (row, error) {
	r := row{
		blockNumber:         d.BlockNumber,
		txIndex:             d.TxIndex,
		txHash:              d.TxHash.Bytes(),
		timestamp:           d.Timestamp,
		normalGasUsed:       d.GasAnalysis.NormalGasUsed,
		experimentalGasUsed: d.GasAnalysis.ExperimentalGasUsed,
		gasMultiplier:       d.GasAnalysis.GasMultiplier,
		gasEfficiencyRatio:  d.GasAnalysis.GasEfficiencyRatio,
	}

	names := make([]string, len(d.Types))
	for i, t := range d.Types {
		names[i] = string(t)
	}
	sort.Strings(names)
	typesJSON, err := json.Marshal(names)
	if err != nil {
		return row{}, err
	}
	r.types = string(typesJSON)

	if b, err := marshalOpt(d.NormalOps); err != nil {
		return row{}, err
	} else {
		r.normalOpsJSON = b
	}
	if b, err := marshalOpt(d.ExperimentalOps); err != nil {
		return row{}, err
	} else {
		r.experimentalOpsJSON = b
	}
	if d.Location != nil {
		if b, err := marshalOpt(d.Location); err != nil {
			return row{}, err
		} else {
			r.locationJSON = b
		}
	}
	if d.OOG != nil {
		if b, err := marshalOpt(d.OOG); err != nil {
			return row{}, err
		} else {
			r.oogJSON = b
		}
	}
	if d.CallTrees != nil {
		if b, err := marshalOpt(d.CallTrees); err != nil {
			return row{}, err
		} else {
			r.callTreesJSON = b
		}
	}
	if d.EventLogs != nil {
		if b, err := marshalOpt(d.EventLogs); err != nil {
			return row{}, err
		} else {
			r.eventLogsJSON = b
		}
	}

	return r, nil
}

func marshalOpt(v interface{}) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
