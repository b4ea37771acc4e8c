package markov

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

const (
	// VocabSize is the size of the character vocabulary the models are
	// trained on: a-z, 0-9 and the separators . _ + -
	VocabSize = 46

	// Smoothing is the Laplace floor applied to unseen transitions and
	// unseen contexts.
	Smoothing = 0.001

	// MaxHistory bounds the cross-entropy history ring carried by each
	// model artifact.
	MaxHistory = 1000
)

// Model is an order-k character model over email local parts. States map a
// context string of k-1 characters to observed next-character counts.
// Models are immutable once loaded; training happens offline.
type Model struct {
	Order         int
	States        map[string]*State
	TrainingCount int
	CEHistory     []float64
}

// State holds the transition counts observed for one context
type State struct {
	Counts map[string]uint32
	Total  uint32
}

// wire format matches the artifact JSON layout
type modelWire struct {
	Order         int         `json:"order"`
	States        []stateWire `json:"states"`
	TrainingCount int         `json:"trainingCount"`
	CEHistory     []float64   `json:"crossEntropyHistory,omitempty"`
}

type stateWire struct {
	Context          string            `json:"context"`
	NextChars        []json.RawMessage `json:"nextChars"`
	TotalTransitions uint32            `json:"totalTransitions"`
}

// NewModel creates an empty model of the given n-gram order
func NewModel(order int) (*Model, error) {
	if order < 1 || order > 3 {
		return nil, fmt.Errorf("unsupported model order %d", order)
	}
	return &Model{
		Order:  order,
		States: make(map[string]*State),
	}, nil
}

// Train feeds one sample into the model. Used by offline tooling and tests;
// serving models arrive pre-trained via the artifact store.
func (m *Model) Train(sample string) {
	s := Sanitize(sample)
	ctxLen := m.Order - 1
	if len(s) <= ctxLen {
		return
	}

	for i := ctxLen; i < len(s); i++ {
		context := s[i-ctxLen : i]
		next := string(s[i])

		state, ok := m.States[context]
		if !ok {
			state = &State{Counts: make(map[string]uint32)}
			m.States[context] = state
		}
		state.Counts[next]++
		state.Total++
	}
	m.TrainingCount++
}

// CrossEntropy returns the mean negative log2-probability of the string
// under this model. Strings with no evaluable transitions return +Inf, which
// the ensemble treats as an invalid-entropy condition.
func (m *Model) CrossEntropy(sample string) float64 {
	s := Sanitize(sample)
	ctxLen := m.Order - 1
	if len(s) <= ctxLen {
		return math.Inf(1)
	}

	var sum float64
	n := 0
	for i := ctxLen; i < len(s); i++ {
		context := s[i-ctxLen : i]
		next := string(s[i])
		sum += -math.Log2(m.probability(context, next))
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

// probability applies Laplace smoothing over the fixed vocabulary, with a
// hard floor for contexts the model has never seen.
func (m *Model) probability(context, next string) float64 {
	state, ok := m.States[context]
	if !ok || state.Total == 0 {
		return Smoothing
	}
	count := float64(state.Counts[next])
	return (count + Smoothing) / (float64(state.Total) + Smoothing*VocabSize)
}

// RecordEntropy appends an observed cross-entropy to the bounded history
// ring. Callers own concurrency; the serving path records on snapshots it
// exclusively owns before publishing.
func (m *Model) RecordEntropy(h float64) {
	if math.IsInf(h, 0) || math.IsNaN(h) {
		return
	}
	m.CEHistory = append(m.CEHistory, h)
	if len(m.CEHistory) > MaxHistory {
		m.CEHistory = m.CEHistory[len(m.CEHistory)-MaxHistory:]
	}
}

// HistoryStats summarizes the cross-entropy history for drift analysis
type HistoryStats struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	P95     float64 `json:"p95"`
}

// HistoryStats computes drift summary statistics over the entropy ring
func (m *Model) HistoryStats() HistoryStats {
	if len(m.CEHistory) == 0 {
		return HistoryStats{}
	}

	data := stats.Float64Data(m.CEHistory)
	mean, _ := data.Mean()
	sd, _ := data.StandardDeviation()
	p95, _ := data.Percentile(95)

	return HistoryStats{
		Samples: len(m.CEHistory),
		Mean:    mean,
		StdDev:  sd,
		P95:     p95,
	}
}

// Sanitize lowercases and strips every character outside the model
// vocabulary (a-z, 0-9, . _ + -).
func Sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '+', c == '-':
			b.WriteByte(c)
		}
	}
	return b.String()
}

// MarshalJSON emits the artifact wire format
func (m *Model) MarshalJSON() ([]byte, error) {
	wire := modelWire{
		Order:         m.Order,
		TrainingCount: m.TrainingCount,
		CEHistory:     m.CEHistory,
		States:        make([]stateWire, 0, len(m.States)),
	}

	for context, state := range m.States {
		sw := stateWire{
			Context:          context,
			TotalTransitions: state.Total,
		}
		for next, count := range state.Counts {
			pair, err := json.Marshal([2]interface{}{next, count})
			if err != nil {
				return nil, err
			}
			sw.NextChars = append(sw.NextChars, pair)
		}
		wire.States = append(wire.States, sw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the artifact wire format
func (m *Model) UnmarshalJSON(data []byte) error {
	var wire modelWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Order < 1 || wire.Order > 3 {
		return fmt.Errorf("unsupported model order %d", wire.Order)
	}

	m.Order = wire.Order
	m.TrainingCount = wire.TrainingCount
	m.CEHistory = wire.CEHistory
	if len(m.CEHistory) > MaxHistory {
		m.CEHistory = m.CEHistory[len(m.CEHistory)-MaxHistory:]
	}
	m.States = make(map[string]*State, len(wire.States))

	for _, sw := range wire.States {
		state := &State{
			Counts: make(map[string]uint32, len(sw.NextChars)),
			Total:  sw.TotalTransitions,
		}
		var total uint32
		for _, raw := range sw.NextChars {
			// nextChars entries are ["a", 12] pairs
			var pair [2]interface{}
			if err := json.Unmarshal(raw, &pair); err != nil {
				return fmt.Errorf("malformed nextChars entry: %w", err)
			}
			char, ok := pair[0].(string)
			if !ok || char == "" {
				return fmt.Errorf("malformed nextChars char: %v", pair[0])
			}
			count, ok := pair[1].(float64)
			if !ok || count < 0 {
				return fmt.Errorf("malformed nextChars count: %v", pair[1])
			}
			state.Counts[char] = uint32(count)
			total += uint32(count)
		}
		if state.Total == 0 {
			state.Total = total
		}
		m.States[sw.Context] = state
	}
	return nil
}
