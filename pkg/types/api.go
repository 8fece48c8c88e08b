package types

// ModelList is the OpenAI-style payload returned by GET /v1/models.
type ModelList struct {
	// Always "list".
	// example: list
	Object string `json:"object" example:"list"`
	// Configured models.
	Data []ModelCard `json:"data"`
}

// ModelCard describes one configured model in OpenAI list format.
type ModelCard struct {
	// Model identifier as configured.
	// example: llama-3.1-70b
	ID string `json:"id" example:"llama-3.1-70b"`
	// Always "model".
	// example: model
	Object string `json:"object" example:"model"`
	// Server start time in unix seconds.
	// example: 1700000000
	Created int64 `json:"created" example:"1700000000"`
	// Fixed owner string.
	// example: vramd
	OwnedBy string `json:"owned_by" example:"vramd"`
}

// FitReport is returned by GET /fit/{model}.
type FitReport struct {
	// Model identifier the report is about.
	// example: llama-3.1-70b
	Model string `json:"model" example:"llama-3.1-70b"`
	// Whether the model fits in currently free device memory.
	// example: false
	Fits bool `json:"fits" example:"false"`
	// Estimated bytes the model needs to become resident.
	// example: 8000000000
	RequiredBytes uint64 `json:"required_bytes" example:"8000000000"`
	// Bytes currently free on the device.
	// example: 5000000000
	FreeBytes uint64 `json:"free_bytes" example:"5000000000"`
}

// ResidentStatus summarizes one resident model for /status.
type ResidentStatus struct {
	// Model identifier.
	// example: llama-3.1-70b
	Model string `json:"model" example:"llama-3.1-70b"`
	// Last time this model served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Number of requests currently being serviced.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Estimated device memory held by the backend, in bytes.
	// example: 8000000000
	RequiredBytes uint64 `json:"required_bytes" example:"8000000000"`
	// Process ID of the backend.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// TCP port the backend is bound to.
	// example: 30001
	Port int `json:"port,omitempty" example:"30001"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Currently resident models.
	Residents []ResidentStatus `json:"residents"`
	// Total number of backend starts since boot.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of evictions since boot.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: mistral-7b
	Error string `json:"error" example:"model not found: mistral-7b"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Bytes the rejected model would need (memory exhaustion only).
	// example: 8000000000
	RequiredBytes uint64 `json:"required_bytes,omitempty" example:"8000000000"`
	// Bytes that could be made available (memory exhaustion only).
	// example: 5000000000
	AvailableBytes uint64 `json:"available_bytes,omitempty" example:"5000000000"`
}
