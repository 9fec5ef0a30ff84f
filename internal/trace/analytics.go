package trace

import "github.com/drishiq/dialogue-engine/internal/domain"

// StageStats aggregates outcomes for one stage across a trace.
type StageStats struct {
	Count        int            `json:"count"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	Outcomes     map[string]int `json:"outcomes"`
}

// Summary is the per-trace analytics view served by the admin surface.
type Summary struct {
	TotalEntries   int                   `json:"total_entries"`
	StageEntries   int                   `json:"stage_entries"`
	TotalLatencyMs int64                 `json:"total_latency_ms"`
	RunStatus      domain.Status         `json:"run_status,omitempty"`
	Stages         map[string]StageStats `json:"stages"`
}

// Summarize computes analytics over one trace's entries.
func Summarize(entries []domain.TraceEntry) Summary {
	s := Summary{Stages: make(map[string]StageStats)}
	latencySums := make(map[string]int64)

	for _, e := range entries {
		s.TotalEntries++
		if e.PipelineLevel() {
			if e.Status.Terminal() {
				s.RunStatus = e.Status
				s.TotalLatencyMs = e.LatencyMs
			}
			continue
		}

		s.StageEntries++
		st := s.Stages[e.StageID]
		if st.Outcomes == nil {
			st.Outcomes = make(map[string]int)
		}
		st.Count++
		st.Outcomes[string(e.Status)]++
		latencySums[e.StageID] += e.LatencyMs
		s.Stages[e.StageID] = st
	}

	for id, st := range s.Stages {
		if st.Count > 0 {
			st.AvgLatencyMs = float64(latencySums[id]) / float64(st.Count)
			s.Stages[id] = st
		}
	}
	return s
}
