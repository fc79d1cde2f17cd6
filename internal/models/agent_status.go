package models

// AgentStatus is the coarse run-state reported by the agent process.
type AgentStatus string

const (
	AgentStatusIdle           AgentStatus = "idle"
	AgentStatusStarting       AgentStatus = "starting"
	AgentStatusRunning        AgentStatus = "running"
	AgentStatusWaitingNetwork AgentStatus = "waiting_network"
	AgentStatusTimeout        AgentStatus = "timeout"
	AgentStatusFailed         AgentStatus = "failed"
	AgentStatusError          AgentStatus = "error"
	AgentStatusComplete       AgentStatus = "complete"
	AgentStatusMaxIterations  AgentStatus = "max_iterations"
	AgentStatusStopped        AgentStatus = "stopped"
)

// IsActive reports whether the agent is in an active run-state.
func (s AgentStatus) IsActive() bool {
	switch s {
	case AgentStatusStarting, AgentStatusRunning, AgentStatusWaitingNetwork:
		return true
	}
	return false
}

// IsErrored reports whether the run-state denotes a failure.
func (s AgentStatus) IsErrored() bool {
	switch s {
	case AgentStatusFailed, AgentStatusError, AgentStatusTimeout:
		return true
	}
	return false
}

// AgentStatusRecord is a full status report. Records replace each other
// wholesale; fields are never merged.
type AgentStatusRecord struct {
	Status        AgentStatus `json:"status"`
	Message       string      `json:"message"`
	Iteration     int         `json:"iteration"`
	MaxIterations int         `json:"maxIterations"`
	Completed     int         `json:"completed"`
	Total         int         `json:"total"`
	CurrentTask   string      `json:"currentTask"`
	RetryCount    int         `json:"retryCount"`
	StartedAt     *Timestamp  `json:"startedAt,omitempty"`
	Timestamp     *Timestamp  `json:"timestamp,omitempty"`
}
