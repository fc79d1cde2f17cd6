package models

// TeammateStatus is the lifecycle state of one concurrent worker.
type TeammateStatus string

const (
	TeammatePending   TeammateStatus = "pending"
	TeammateRunning   TeammateStatus = "running"
	TeammateCompleted TeammateStatus = "completed"
	TeammateFailed    TeammateStatus = "failed"
)

// TeammateRecord is the authoritative timing for one task of the current
// cohort. ID is the task id the teammate works on.
type TeammateRecord struct {
	ID          string         `json:"id"`
	Status      TeammateStatus `json:"status"`
	StartedAt   *Timestamp     `json:"startedAt,omitempty"`
	CompletedAt *Timestamp     `json:"completedAt,omitempty"`
}

// CohortFile is the authoritative description of the batch currently being
// executed. BatchIndex is optional on the wire.
type CohortFile struct {
	UpdatedAt  Timestamp        `json:"updatedAt"`
	BatchIndex *int             `json:"batchIndex,omitempty"`
	Teammates  []TeammateRecord `json:"teammates"`
}
