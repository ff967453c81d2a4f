package model

// ApplyType is the normalized application-period kind of a policy.
type ApplyType string

// Apply types.
const (
	ApplyPeriodic   ApplyType = "PERIODIC"
	ApplyAlwaysOpen ApplyType = "ALWAYS_OPEN"
	ApplyClosed     ApplyType = "CLOSED"
	ApplyUnknown    ApplyType = "UNKNOWN"
)

// PolicyStatus is the derived lifecycle status of a policy.
type PolicyStatus string

// Policy statuses.
const (
	StatusOpen     PolicyStatus = "OPEN"
	StatusUpcoming PolicyStatus = "UPCOMING"
	StatusClosed   PolicyStatus = "CLOSED"
	StatusUnknown  PolicyStatus = "UNKNOWN"
)

// StageStatus is the state of one run_log row.
type StageStatus string

// Stage statuses.
const (
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
)
