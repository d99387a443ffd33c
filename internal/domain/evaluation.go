package domain

import (
	"time"
)

// Trace error kinds recorded on comparison nodes.
const (
	TraceMissingField = "MissingField"
	TraceTypeMismatch = "TypeMismatch"
	TraceInvalidNode  = "InvalidNode"
)

// TraceNode mirrors the evaluated part of a condition tree.
// Children that were short-circuited are not present; Skipped counts them.
type TraceNode struct {
	Operator  string      `json:"op"`
	Field     string      `json:"field,omitempty"`
	Expected  any         `json:"expected,omitempty"`
	Actual    any         `json:"actual,omitempty"`
	Matched   bool        `json:"matched"`
	ErrorKind string      `json:"errorKind,omitempty"`
	Error     string      `json:"error,omitempty"`
	Skipped   int         `json:"skipped,omitempty"`
	Children  []TraceNode `json:"children,omitempty"`
}

// MatchResult is produced per rule per evaluation.
type MatchResult struct {
	RuleID           string    `json:"ruleId"`
	RuleName         string    `json:"ruleName"`
	Priority         int       `json:"priority"`
	Matched          bool      `json:"matched"`
	ContributedScore int       `json:"contributedScore"`
	Trace            TraceNode `json:"trace"`
}

// AggregateResult combines the match results of one category evaluation.
type AggregateResult struct {
	Category Category `json:"category"`

	// TotalScore is min(100, RawScore).
	TotalScore int  `json:"totalScore"`
	RawScore   int  `json:"rawScore"`
	Capped     bool `json:"capped"`

	// MatchedRules is ordered by contributed score desc, priority asc, id asc.
	MatchedRules []MatchResult `json:"matchedRules"`

	// UnmatchedRules keeps the trace of every evaluated rule that did not match,
	// in snapshot order.
	UnmatchedRules []MatchResult `json:"unmatchedRules,omitempty"`

	RulesEvaluated      int    `json:"rulesEvaluated"`
	SnapshotVersion     uint64 `json:"snapshotVersion"`
	SnapshotFingerprint string `json:"snapshotFingerprint"`
}

// Evaluation is the persisted outcome of one entity evaluation.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	EntityID  string    `json:"entityId,omitempty"`
	Category  Category  `json:"category"`
	Status    string    `json:"status"` // "ESCALATE" or "CLEAR"
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`

	Result AggregateResult `json:"result"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID             string `json:"traceId"`
	RulesMs             int64  `json:"rulesMs"`
	DecisionMs          int64  `json:"decisionMs"`
	TotalMs             int64  `json:"totalMs"`
	RulesEvaluated      int    `json:"rulesEvaluated"`
	RulesMatched        int    `json:"rulesMatched"`
	Threshold           int    `json:"threshold"`
	SnapshotVersion     uint64 `json:"snapshotVersion"`
	SnapshotFingerprint string `json:"snapshotFingerprint"`
	CacheHit            bool   `json:"cacheHit"`
	EngineVersion       string `json:"engineVersion"`
}

// Decision status constants
const (
	StatusEscalate = "ESCALATE" // score reached the category threshold
	StatusClear    = "CLEAR"
)

// EvaluationResponse is the API response for an entity evaluation.
type EvaluationResponse struct {
	EvaluationID string             `json:"evaluationId"`
	TenantID     string             `json:"tenantId"`
	EntityID     string             `json:"entityId,omitempty"`
	Category     Category           `json:"category"`
	Status       string             `json:"status"`
	TotalScore   int                `json:"totalScore"`
	Reasons      []string           `json:"reasons,omitempty"`
	MatchedRules []MatchResult      `json:"matchedRules"`
	Unmatched    []MatchResult      `json:"unmatchedRules,omitempty"`
	Metadata     EvaluationMetadata `json:"metadata"`
}

// ToResponse converts an Evaluation to an API response. Unmatched traces are
// only included when explain is set.
func (e *Evaluation) ToResponse(explain bool) *EvaluationResponse {
	reasons := make([]string, 0, len(e.Result.MatchedRules))
	for _, m := range e.Result.MatchedRules {
		reasons = append(reasons, m.RuleName)
	}

	resp := &EvaluationResponse{
		EvaluationID: e.ID,
		TenantID:     e.TenantID,
		EntityID:     e.EntityID,
		Category:     e.Category,
		Status:       e.Status,
		TotalScore:   e.Score,
		Reasons:      reasons,
		MatchedRules: e.Result.MatchedRules,
		Metadata:     e.Metadata,
	}
	if explain {
		resp.Unmatched = e.Result.UnmatchedRules
	}
	return resp
}
