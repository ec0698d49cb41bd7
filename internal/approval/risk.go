package approval

import "time"

// RiskLevel grades how dangerous an operation is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Operation kinds known to the classifier. Anything else classifies as medium.
const (
	OpAgentCall       = "agent_call"
	OpFileWrite       = "file_write"
	OpFileDelete      = "file_delete"
	OpGitCommit       = "git_commit"
	OpGitPush         = "git_push"
	OpGitForcePush    = "git_force_push"
	OpGitBranchDelete = "git_branch_delete"
	OpPRCreate        = "pr_create"
	OpAPICall         = "api_call"
	OpCodeExecution   = "code_execution"
	OpNetworkRequest  = "network_request"
)

var riskByOperation = map[string]RiskLevel{
	OpAgentCall:       RiskLow,
	OpFileWrite:       RiskMedium,
	OpGitCommit:       RiskMedium,
	OpPRCreate:        RiskMedium,
	OpAPICall:         RiskMedium,
	OpCodeExecution:   RiskHigh,
	OpFileDelete:      RiskHigh,
	OpGitPush:         RiskHigh,
	OpNetworkRequest:  RiskHigh,
	OpGitForcePush:    RiskCritical,
	OpGitBranchDelete: RiskCritical,
}

var timeoutByRisk = map[RiskLevel]time.Duration{
	RiskLow:      60 * time.Second,
	RiskMedium:   300 * time.Second,
	RiskHigh:     600 * time.Second,
	RiskCritical: 900 * time.Second,
}

// Classify maps an operation kind to its risk level. Unrecognized kinds
// default to medium.
func Classify(operationKind string) RiskLevel {
	if level, ok := riskByOperation[operationKind]; ok {
		return level
	}
	return RiskMedium
}

// RequiresApproval reports whether operations at the given risk level need
// an explicit decision. Only low-risk operations are exempt.
func RequiresApproval(level RiskLevel) bool {
	return level != RiskLow
}

// DefaultTimeout returns the decision window for a risk level.
func DefaultTimeout(level RiskLevel) time.Duration {
	if d, ok := timeoutByRisk[level]; ok {
		return d
	}
	return timeoutByRisk[RiskMedium]
}
