package api

import "github.com/mattjoyce/typepool/internal/events"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RunID         string `json:"run_id,omitempty"`
	Phase         string `json:"phase"`
	Workers       int    `json:"workers"`
	Busy          int    `json:"busy"`
	Faulted       int    `json:"faulted"`
	Queued        int    `json:"queued"`
	Dispatched    int    `json:"dispatched"`
	Completed     int    `json:"completed"`
}

// WorkersResponse is returned by GET /workers.
type WorkersResponse struct {
	LastEventID int64               `json:"last_event_id"`
	Workers     []events.WorkerView `json:"workers"`
}
