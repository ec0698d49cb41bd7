package approval

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		op   string
		want RiskLevel
	}{
		{OpAgentCall, RiskLow},
		{OpFileWrite, RiskMedium},
		{OpGitCommit, RiskMedium},
		{OpPRCreate, RiskMedium},
		{OpAPICall, RiskMedium},
		{OpCodeExecution, RiskHigh},
		{OpFileDelete, RiskHigh},
		{OpGitPush, RiskHigh},
		{OpNetworkRequest, RiskHigh},
		{OpGitForcePush, RiskCritical},
		{OpGitBranchDelete, RiskCritical},
		{"something_new", RiskMedium},
		{"", RiskMedium},
	}
	for _, tc := range cases {
		if got := Classify(tc.op); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.op, got, tc.want)
		}
	}
}

func TestRequiresApproval(t *testing.T) {
	if RequiresApproval(RiskLow) {
		t.Error("low risk must not require approval")
	}
	for _, level := range []RiskLevel{RiskMedium, RiskHigh, RiskCritical} {
		if !RequiresApproval(level) {
			t.Errorf("%s risk must require approval", level)
		}
	}
}

func TestDefaultTimeoutGrowsWithRisk(t *testing.T) {
	prev := time.Duration(0)
	for _, level := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		d := DefaultTimeout(level)
		if d <= prev {
			t.Errorf("DefaultTimeout(%s) = %v, want > %v", level, d, prev)
		}
		prev = d
	}
	if got := DefaultTimeout(RiskLevel("unknown")); got != DefaultTimeout(RiskMedium) {
		t.Errorf("unknown level timeout = %v, want the medium default %v", got, DefaultTimeout(RiskMedium))
	}
}
