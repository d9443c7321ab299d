package dtos

// RetryStatsDTO reports the retry subsystem state: timer queue depth plus
// transaction counts per status.
type RetryStatsDTO struct {
	QueueDepth      int            `json:"queueDepth"`
	CountsByStatus  map[string]int `json:"countsByStatus"`
	MaxAttempts     int            `json:"maxAttempts"`
	BackoffStrategy string         `json:"backoffStrategy"`
}

// DeadLetterStatDTO is one error-code bucket of the dead-letter queue.
type DeadLetterStatDTO struct {
	ErrorCode string `json:"errorCode"`
	Count     int    `json:"count"`
}

// DeadLetterStatsDTO summarizes the dead-letter queue.
type DeadLetterStatsDTO struct {
	Total       int                 `json:"total"`
	ByErrorCode []DeadLetterStatDTO `json:"byErrorCode"`
}
