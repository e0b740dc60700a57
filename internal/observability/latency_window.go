package observability

import (
	"sort"
	"sync"
	"time"
)

// Relay latency stages, in the order they are reported.
const (
	StageFirstAudio    = "input_to_first_audio"
	StageUpstreamSetup = "upstream_setup"
	StageToolResolve   = "tool_resolve"
)

// stageBudgets holds the p95 budget of every tracked stage. Observations for
// other stage names are ignored.
var stageBudgets = []struct {
	stage  string
	budget time.Duration
}{
	{StageFirstAudio, 1200 * time.Millisecond},
	{StageUpstreamSetup, 1500 * time.Millisecond},
	{StageToolResolve, 150 * time.Millisecond},
}

type StageStats struct {
	Stage   string `json:"stage"`
	Samples int    `json:"samples"`
	// Observed counts every sample since start, including evicted ones.
	Observed    uint64  `json:"observed"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	// OverTarget counts windowed samples slower than the budget.
	OverTarget int `json:"over_target"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LatencySnapshot is the JSON body of /v1/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// stageSamples is a fixed-size ring of the most recent durations of one stage.
type stageSamples struct {
	budget   time.Duration
	buf      []time.Duration
	n        int
	head     int
	observed uint64
	last     time.Duration
}

func (s *stageSamples) add(d time.Duration) {
	s.buf[s.head] = d
	s.head = (s.head + 1) % len(s.buf)
	if s.n < len(s.buf) {
		s.n++
	}
	s.observed++
	s.last = d
}

func (s *stageSamples) stats(stage string) StageStats {
	sorted := make([]time.Duration, s.n)
	copy(sorted, s.buf[:s.n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	over := 0
	for _, d := range sorted {
		sum += d
		if s.budget > 0 && d > s.budget {
			over++
		}
	}
	return StageStats{
		Stage:       stage,
		Samples:     s.n,
		Observed:    s.observed,
		LastMS:      millis(s.last),
		AvgMS:       millis(sum / time.Duration(s.n)),
		P50MS:       millis(nearestRank(sorted, 50)),
		P95MS:       millis(nearestRank(sorted, 95)),
		P99MS:       millis(nearestRank(sorted, 99)),
		TargetP95MS: millis(s.budget),
		OverTarget:  over,
	}
}

// latencyWindow tracks recent per-stage latencies and counts of relay
// indicators such as interruptions.
type latencyWindow struct {
	mu         sync.Mutex
	size       int
	stages     map[string]*stageSamples
	indicators map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	w := &latencyWindow{
		size:       size,
		stages:     make(map[string]*stageSamples, len(stageBudgets)),
		indicators: make(map[string]int),
	}
	for _, b := range stageBudgets {
		w.stages[b.stage] = &stageSamples{budget: b.budget, buf: make([]time.Duration, size)}
	}
	return w
}

func (w *latencyWindow) Observe(stage string, d time.Duration) {
	if d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stages[stage]; ok {
		s.add(d)
	}
}

func (w *latencyWindow) ObserveIndicator(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      []StageStats{},
	}
	for _, b := range stageBudgets {
		if s := w.stages[b.stage]; s.n > 0 {
			snap.Stages = append(snap.Stages, s.stats(b.stage))
		}
	}
	for name, count := range w.indicators {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: count})
	}
	sort.Slice(snap.Indicators, func(i, j int) bool { return snap.Indicators[i].Name < snap.Indicators[j].Name })
	return snap
}

// nearestRank returns the p-th percentile of an ascending slice.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()/10) / 100
}
