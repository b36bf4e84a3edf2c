package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// BotMetrics is returned by GET /v1/admin/metrics.
type BotMetrics struct {
	TotalTurns          int64            `json:"totalTurns"`
	FailedTurns         int64            `json:"failedTurns"`
	ErrorRate           float64          `json:"errorRate"`
	DroppedEvents       map[string]int64 `json:"droppedEvents"`
	Intents             map[string]int64 `json:"intents"`
	InterpreterFailures int64            `json:"interpreterFailures"`
	PromptTokens        int64            `json:"promptTokens"`
	CompletionTokens    int64            `json:"completionTokens"`
	AvgTokensPerTurn    float64          `json:"avgTokensPerTurn"`
	ReceiptsRendered    int64            `json:"receiptsRendered"`
	DedupeHitRate       float64          `json:"dedupeHitRate"`
	Period              string           `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
