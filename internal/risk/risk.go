// Package risk evaluates a Proposal against a deterministic policy,
// counting risk factors rather than asking a model. When any factor is
// uncertain or present, the evaluator fails safe toward requiring
// approval, the same fail-safe-to-ASK posture the teacher pack's own
// tool-call evaluator takes ("default to ASK if unclear").
package risk

import (
	"strings"

	"github.com/boshu2/ambient/internal/ambtypes"
)

// sensitiveFilePatterns are matched case-insensitively as substrings against
// each touched file path. Fixed, not operator-configurable (see DESIGN.md
// Open Question decision 4).
var sensitiveFilePatterns = []string{
	".env",
	"secret",
	"password",
	"credentials",
	"api_key",
	"private_key",
	"auth",
	"payment",
	"billing",
	"database",
	"config/production",
}

// sensitiveTags are matched case-insensitively against a Proposal's tags.
// Fixed, not operator-configurable (see DESIGN.md Open Question decision 4).
var sensitiveTags = []string{
	"security", "auth", "authentication", "payment", "billing", "database",
}

// Policy configures the thresholds a Proposal is evaluated against.
type Policy struct {
	MaxFilesAutoApply      int
	MaxLOCAutoApply        int
	RequireApprovalLevels  []ambtypes.RiskLevel
	AutoApplyAllowedLevels []ambtypes.RiskLevel
}

// DefaultPolicy is a conservative starting point: only low-risk, small,
// non-sensitive proposals are auto-apply eligible.
func DefaultPolicy() Policy {
	return Policy{
		MaxFilesAutoApply:      5,
		MaxLOCAutoApply:        80,
		RequireApprovalLevels:  []ambtypes.RiskLevel{ambtypes.RiskHigh, ambtypes.RiskCritical},
		AutoApplyAllowedLevels: []ambtypes.RiskLevel{ambtypes.RiskLow},
	}
}

// Evaluation is the outcome of evaluating one Proposal.
type Evaluation struct {
	RiskScore         int
	RequiresApproval  bool
	AutoApplyEligible bool
	Factors           []string
}

// Evaluate counts risk factors present in p against policy and derives
// RequiresApproval / AutoApplyEligible from the factor count.
func Evaluate(policy Policy, p ambtypes.Proposal) Evaluation {
	var factors []string
	score := 0

	if levelIn(p.RiskLevel, policy.RequireApprovalLevels) {
		score++
		factors = append(factors, "risk_level:"+string(p.RiskLevel))
	}

	if len(p.FilesTouched) > policy.MaxFilesAutoApply {
		score++
		factors = append(factors, "files_touched_exceeds_limit")
	}

	if absInt(p.EstimatedLOCChange) > policy.MaxLOCAutoApply {
		score++
		factors = append(factors, "loc_change_exceeds_limit")
	}

	for _, f := range p.FilesTouched {
		if matchesSensitivePattern(f) {
			score++
			factors = append(factors, "sensitive_path:"+f)
		}
	}

	for _, tag := range p.Tags {
		if tagIn(tag, sensitiveTags) {
			score++
			factors = append(factors, "sensitive_tag:"+tag)
		}
	}

	requiresApproval := score > 0
	autoApplyEligible := !requiresApproval && levelIn(p.RiskLevel, policy.AutoApplyAllowedLevels)

	return Evaluation{
		RiskScore:         score,
		RequiresApproval:  requiresApproval,
		AutoApplyEligible: autoApplyEligible,
		Factors:           factors,
	}
}

func levelIn(level ambtypes.RiskLevel, set []ambtypes.RiskLevel) bool {
	for _, l := range set {
		if l == level {
			return true
		}
	}
	return false
}

func tagIn(tag string, set []string) bool {
	tag = strings.ToLower(tag)
	for _, s := range set {
		if strings.ToLower(s) == tag {
			return true
		}
	}
	return false
}

func matchesSensitivePattern(path string) bool {
	lower := strings.ToLower(path)
	for _, pattern := range sensitiveFilePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
