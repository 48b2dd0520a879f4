package domain

import (
	"strings"
	"time"
)

// ContactStatus is the lifecycle state of a contact.
type ContactStatus string

const (
	ContactStatusActive   ContactStatus = "active"
	ContactStatusBlocked  ContactStatus = "blocked"
	ContactStatusArchived ContactStatus = "archived"
)

// Contact is a customer known to the messaging platform.
type Contact struct {
	ID                string        `json:"id"`
	ExternalID        string        `json:"externalId,omitempty"`
	Phone             string        `json:"phone"`
	Name              string        `json:"name,omitempty"`
	Email             string        `json:"email,omitempty"`
	Status            ContactStatus `json:"status"`
	Tags              TagSet        `json:"tags"`
	Metadata          Metadata      `json:"metadata"`
	LastInteractionAt time.Time     `json:"lastInteractionAt"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// NormalizePhone reduces a phone number to "+" followed by its ASCII digits.
// Formatting characters and leading zeros are dropped. Returns "" when no
// digits remain.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw) + 1)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" {
		return ""
	}
	return "+" + digits
}
