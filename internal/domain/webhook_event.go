package domain

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the audit row written for every inbound payload.
type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"eventType"`
	RawPayload   json.RawMessage `json:"rawPayload"`
	Processed    bool            `json:"processed"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	RetryCount   int             `json:"retryCount"`
	SourceIP     string          `json:"sourceIp,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
