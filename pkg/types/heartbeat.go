package types

// WorkerHeartbeat is emitted by a worker after a fully successful round.
type WorkerHeartbeat struct {
	ComponentName string  `json:"component_name"`
	IsAlive       bool    `json:"is_alive"`
	Timestamp     float64 `json:"timestamp"`
}

// ManagerHeartbeat is a manager's answer to a health-checker ping,
// enumerating its children by liveness.
type ManagerHeartbeat struct {
	ComponentName    string   `json:"component_name"`
	RunningProcesses []string `json:"running_processes"`
	DeadProcesses    []string `json:"dead_processes"`
	Timestamp        float64  `json:"timestamp"`
}
