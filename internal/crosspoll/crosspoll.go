// Package crosspoll runs the deterministic, multi-round proposal
// coordination pipeline: flatten refined proposals (or fall back to the
// base round), dedupe, cluster by file overlap, pick one winner per
// cluster, then sort winners for a stable final ordering. Every tie break
// is lexicographic so two runs over the same input always agree.
package crosspoll

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/boshu2/ambient/internal/ambtypes"
)

// riskWeight mirrors the original pipeline's per-risk-level scoring.
var riskWeight = map[ambtypes.RiskLevel]int{
	ambtypes.RiskCritical: 40,
	ambtypes.RiskHigh:     30,
	ambtypes.RiskMedium:   20,
	ambtypes.RiskLow:      10,
}

// tagBonus mirrors the original pipeline's tag scoring bonuses. Tags are
// matched case-insensitively.
var tagBonus = map[string]int{
	"security":    6,
	"auth":        5,
	"test":        4,
	"performance": 4,
	"refactor":    3,
	"style":       1,
}

// Result is the output of a cross-pollination run.
type Result struct {
	Proposals []ambtypes.Proposal
	Metadata  Metadata
}

// Metadata records round-by-round counts for telemetry.
type Metadata struct {
	Round1Count          int
	Round2DedupedCount   int
	ConflictClusterCount int
	FinalCount           int
}

// Run executes the four-round pipeline: flatten, dedupe, cluster, select
// and sort winners.
func Run(baseProposals []ambtypes.Proposal, refinedLists [][]ambtypes.Proposal) Result {
	round1 := flattenOrFallback(baseProposals, refinedLists)
	round2 := dedupe(round1)
	clusters := conflictClusters(round2)
	round3 := selectClusterWinners(clusters)
	round4 := append([]ambtypes.Proposal(nil), round3...)
	sort.Slice(round4, func(i, j int) bool {
		si, sj := proposalScore(round4[i]), proposalScore(round4[j])
		if si != sj {
			return si > sj
		}
		li, lj := absInt(round4[i].EstimatedLOCChange), absInt(round4[j].EstimatedLOCChange)
		if li != lj {
			return li < lj
		}
		ai, aj := strings.ToLower(round4[i].Agent), strings.ToLower(round4[j].Agent)
		if ai != aj {
			return ai < aj
		}
		return strings.ToLower(round4[i].Title) < strings.ToLower(round4[j].Title)
	})

	return Result{
		Proposals: round4,
		Metadata: Metadata{
			Round1Count:          len(round1),
			Round2DedupedCount:   len(round2),
			ConflictClusterCount: len(clusters),
			FinalCount:           len(round4),
		},
	}
}

func flattenOrFallback(base []ambtypes.Proposal, refined [][]ambtypes.Proposal) []ambtypes.Proposal {
	var flattened []ambtypes.Proposal
	for _, lst := range refined {
		flattened = append(flattened, lst...)
	}
	if len(flattened) == 0 {
		return append([]ambtypes.Proposal(nil), base...)
	}
	return flattened
}

// dedupe removes duplicates keyed on lowercased agent+title, sorted
// files-touched, and a hash of the diff body.
func dedupe(proposals []ambtypes.Proposal) []ambtypes.Proposal {
	seen := map[string]bool{}
	var out []ambtypes.Proposal
	for _, p := range proposals {
		sum := sha256.Sum256([]byte(p.Diff))
		files := append([]string(nil), p.FilesTouched...)
		sort.Strings(files)
		key := strings.ToLower(p.Agent) + "|" + strings.ToLower(strings.TrimSpace(p.Title)) +
			"|" + strings.Join(files, ",") + "|" + hex.EncodeToString(sum[:])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// conflictClusters builds connected components of proposals that touch
// overlapping files, so competing changes to the same file are resolved
// together rather than both applied.
func conflictClusters(proposals []ambtypes.Proposal) [][]ambtypes.Proposal {
	n := len(proposals)
	if n == 0 {
		return nil
	}

	fileSets := make([]map[string]bool, n)
	for i, p := range proposals {
		fileSets[i] = map[string]bool{}
		for _, f := range p.FilesTouched {
			fileSets[i][f] = true
		}
	}

	adj := make([]map[int]bool, n)
	for i := range adj {
		adj[i] = map[int]bool{}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if overlaps(fileSets[i], fileSets[j]) {
				adj[i][j] = true
				adj[j][i] = true
			}
		}
	}

	seen := make([]bool, n)
	var clusters [][]ambtypes.Proposal
	for i := 0; i < n; i++ {
		if seen[i] {
			continue
		}
		stack := []int{i}
		seen[i] = true
		var component []int
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, cur)
			for next := range adj[cur] {
				if seen[next] {
					continue
				}
				seen[next] = true
				stack = append(stack, next)
			}
		}
		sort.Ints(component)
		cluster := make([]ambtypes.Proposal, 0, len(component))
		for _, idx := range component {
			cluster = append(cluster, proposals[idx])
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func overlaps(a, b map[string]bool) bool {
	for f := range a {
		if b[f] {
			return true
		}
	}
	return false
}

// selectClusterWinners picks the single highest-scoring proposal from each
// cluster, breaking ties by smaller absolute LOC change, then agent, then
// title.
func selectClusterWinners(clusters [][]ambtypes.Proposal) []ambtypes.Proposal {
	winners := make([]ambtypes.Proposal, 0, len(clusters))
	for _, cluster := range clusters {
		if len(cluster) == 1 {
			winners = append(winners, cluster[0])
			continue
		}
		ranked := append([]ambtypes.Proposal(nil), cluster...)
		sort.Slice(ranked, func(i, j int) bool {
			si, sj := proposalScore(ranked[i]), proposalScore(ranked[j])
			if si != sj {
				return si > sj
			}
			li, lj := absInt(ranked[i].EstimatedLOCChange), absInt(ranked[j].EstimatedLOCChange)
			if li != lj {
				return li < lj
			}
			ai, aj := strings.ToLower(ranked[i].Agent), strings.ToLower(ranked[j].Agent)
			if ai != aj {
				return ai < aj
			}
			return strings.ToLower(ranked[i].Title) < strings.ToLower(ranked[j].Title)
		})
		winners = append(winners, ranked[0])
	}
	return winners
}

func proposalScore(p ambtypes.Proposal) int {
	score := riskWeight[p.RiskLevel]
	for _, tag := range p.Tags {
		score += tagBonus[strings.ToLower(tag)]
	}
	size := absInt(p.EstimatedLOCChange)
	if size > 500 {
		size = 500
	}
	score -= size / 25
	return score
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
