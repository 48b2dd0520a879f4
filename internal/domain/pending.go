package domain

import (
	"math"
	"time"
)

// PendingResponse tracks one customer message waiting for an agent reply.
//
// While IsPending is true the entry is open. A closed entry with a non-nil
// ResponseTimeMinutes was answered; a closed entry without one was superseded
// by a later customer message.
type PendingResponse struct {
	ID                        string     `json:"id"`
	ConversationKey           string     `json:"conversationKey"`
	ContactPhone              string     `json:"contactPhone"`
	ContactName               string     `json:"contactName,omitempty"`
	CustomerMessageTime       time.Time  `json:"customerMessageTime"`
	CustomerMessageExternalID string     `json:"customerMessageExternalId"`
	CustomerMessageContent    string     `json:"customerMessageContent,omitempty"`
	IsPending                 bool       `json:"isPending"`
	AgentResponseTime         *time.Time `json:"agentResponseTime,omitempty"`
	AgentMessageExternalID    string     `json:"agentMessageExternalId,omitempty"`
	ResponseTimeMs            *int64     `json:"responseTimeMs,omitempty"`
	ResponseTimeMinutes       *int64     `json:"responseTimeMinutes,omitempty"`
	IsFirstMessage            bool       `json:"isFirstMessage"`
	CustomerGapMs             *int64     `json:"customerGapMs,omitempty"`
	CreatedAt                 time.Time  `json:"createdAt"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// Answered reports whether the entry was closed by an agent reply.
func (p *PendingResponse) Answered() bool {
	return !p.IsPending && p.ResponseTimeMinutes != nil
}

// Superseded reports whether the entry was closed by a newer customer message.
func (p *PendingResponse) Superseded() bool {
	return !p.IsPending && p.ResponseTimeMinutes == nil
}

// ConversationKey scopes pending lookups to one conversation of one contact.
func ConversationKey(conversationExternalID, phone string) string {
	return conversationExternalID + ":" + phone
}

// RoundMinutes converts milliseconds to whole minutes, rounding half to even
// so that exactly 30 seconds reports as 0.
func RoundMinutes(ms int64) int64 {
	return roundMinutes(float64(ms))
}

// AverageMinutes is the mean of count durations totalling sumMs, rounded to
// whole minutes once. Zero when count is zero.
func AverageMinutes(sumMs int64, count int) int64 {
	if count <= 0 {
		return 0
	}
	return roundMinutes(float64(sumMs) / float64(count))
}

func roundMinutes(ms float64) int64 {
	return int64(math.RoundToEven(ms / float64(time.Minute/time.Millisecond)))
}
