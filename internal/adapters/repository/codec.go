package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lowmax205/eas/internal/domain/model"
	"github.com/lowmax205/eas/pkg/metrics"
)

func encodeDetails(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "marshal details")
}

func decodeDetails(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	return out, eris.Wrap(json.Unmarshal(b, &out), "unmarshal details")
}

func encodeWeights(w map[model.CheckType]float64) ([]byte, error) {
	if w == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(w)
	return b, eris.Wrap(err, "marshal weights")
}

func decodeWeights(b []byte) (map[model.CheckType]float64, error) {
	out := map[model.CheckType]float64{}
	if len(b) == 0 {
		return out, nil
	}
	return out, eris.Wrap(json.Unmarshal(b, &out), "unmarshal weights")
}

// observe records the latency of one store operation and counts failures
// other than a missing row.
func observe(driver, op string, start time.Time, err error) {
	metrics.RecordRepositoryLatency(driver, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordRepositoryError(driver, op)
	}
}
