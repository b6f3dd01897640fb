package institution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_Averages(t *testing.T) {
	var s Stats
	assert.Equal(t, 0.0, s.AverageSummary())
	assert.Equal(t, 0.0, s.AverageTag())

	s.Add(4, 2)
	s.Add(5, 3)
	assert.Equal(t, 2, s.TotalEvaluations)
	assert.Equal(t, 4.5, s.AverageSummary())
	assert.Equal(t, 2.5, s.AverageTag())

	// 5 -> 1
	s.Adjust(-4, 0)
	assert.Equal(t, 2, s.TotalEvaluations)
	assert.Equal(t, 5.0, s.CumulativeSummary)
	assert.Equal(t, 2.5, s.AverageSummary())
}

func TestStats_MarshalJSON(t *testing.T) {
	s := Stats{Institution: "mgh", CumulativeSummary: 9, CumulativeTag: 5, TotalEvaluations: 2}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	assert.JSONEq(t, `{
		"institution": "mgh",
		"cumulative_summary": 9,
		"cumulative_tag": 5,
		"total_evaluations": 2,
		"average_summary": 4.5,
		"average_tag": 2.5
	}`, string(data))
}
