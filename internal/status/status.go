// Package status aggregates the telemetry log into windowed metrics: cycle
// throughput, proposal/apply/verification success rates, queue-depth
// percentiles, and cycle-latency percentiles. The aggregate-from-log,
// sort-based percentile idiom is grounded on the teacher's
// goals.computeSummary (weighted pass/fail aggregation) and
// goals.ComputeDrift (sort.SliceStable-based ranking), redirected from
// goal-measurement snapshots to telemetry-log windows.
package status

import (
	"sort"
	"time"

	"github.com/boshu2/ambient/internal/telemetry"
)

// Window summarizes every telemetry record whose Timestamp falls within
// [now-duration, now].
type Window struct {
	Since                time.Time
	CyclesStarted        int
	CyclesCompleted      int
	CyclesPerHour        float64
	ProposalsGenerated   int
	ProposalsApplied     int
	ProposalsRejected    int
	ApplySuccessRate     float64
	VerificationPassRate float64
	QueueDepthP95        int
	QueueDepthMax        int
	CycleLatencyP50      time.Duration
	CycleLatencyP95      time.Duration
}

// Compute reads path and aggregates every record newer than now.Add(-window)
// into a Window. A missing or empty log produces a zero-value Window rather
// than an error, matching telemetry.Tail's own missing-file tolerance.
func Compute(path string, window time.Duration, now time.Time) (Window, error) {
	records, err := telemetry.Tail(path)
	if err != nil {
		return Window{}, err
	}

	since := now.Add(-window)
	w := Window{Since: since}

	var verifyTotal, verifyOK int
	var applyTotal, applyOK int
	cycleStart := map[string]time.Time{}
	var latencies []time.Duration
	var queueDepths []int

	for _, rec := range records {
		if rec.Timestamp.Before(since) {
			continue
		}
		switch rec.Type {
		case "cycle_started":
			w.CyclesStarted++
			cycleStart[rec.RunID] = rec.Timestamp
			if depth, ok := rec.Data["queue_depth"].(float64); ok {
				queueDepths = append(queueDepths, int(depth))
			}
		case "cycle_completed":
			w.CyclesCompleted++
			if start, ok := cycleStart[rec.RunID]; ok {
				latencies = append(latencies, rec.Timestamp.Sub(start))
			}
			if n, ok := rec.Data["applied"].(float64); ok {
				w.ProposalsApplied += int(n)
			}
		case "proposal":
			w.ProposalsGenerated++
		case "verify_succeeded":
			verifyTotal++
			verifyOK++
		case "verify_failed":
			verifyTotal++
		case "apply_succeeded":
			applyTotal++
			applyOK++
		case "apply_failed":
			applyTotal++
		case "approval_rejected", "control_plane_throttled", "control_plane_auto_apply_disabled", "review_candidate_failed":
			w.ProposalsRejected++
		}
	}

	if window > 0 {
		w.CyclesPerHour = float64(w.CyclesStarted) / window.Hours()
	}
	if applyTotal > 0 {
		w.ApplySuccessRate = float64(applyOK) / float64(applyTotal)
	}
	if verifyTotal > 0 {
		w.VerificationPassRate = float64(verifyOK) / float64(verifyTotal)
	}

	w.QueueDepthP95 = percentileInt(queueDepths, 0.95)
	w.QueueDepthMax = maxInt(queueDepths)
	w.CycleLatencyP50 = percentile(latencies, 0.50)
	w.CycleLatencyP95 = percentile(latencies, 0.95)

	return w, nil
}

// percentile returns the p-th percentile (0..1) of durations, sorted
// ascending; p=0 or an empty slice returns 0.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// percentileInt mirrors percentile for integer samples (queue depths).
func percentileInt(samples []int, p float64) int {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int(nil), samples...)
	sort.Ints(sorted)

	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func maxInt(samples []int) int {
	max := 0
	for _, s := range samples {
		if s > max {
			max = s
		}
	}
	return max
}
