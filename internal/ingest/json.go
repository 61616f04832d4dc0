package ingest

import (
	"bytes"
	"encoding/json"
	"errors"

	"igma/internal/model"
)

var errEmptyPayload = errors.New("empty payload")

// DecodeCycles accepts either a single cycle submission or an array of them.
func DecodeCycles(data []byte) ([]model.CycleInput, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, errEmptyPayload
	}
	if trim[0] == '[' {
		var list []model.CycleInput
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var in model.CycleInput
	if err := json.Unmarshal(trim, &in); err != nil {
		return nil, err
	}
	return []model.CycleInput{in}, nil
}
