package messages

import (
	"strings"
	"time"
)

type State string

const (
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

type Status string

const (
	StatusSent Status = "SENT"
	StatusRead Status = "READ"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority accepts the known priorities case-insensitively; blank means normal.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriorityNormal:
		return PriorityNormal, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityUrgent:
		return PriorityUrgent, true
	}
	return "", false
}

type Message struct {
	ID                   int64      `json:"id"`
	Sender               string     `json:"sender"`
	SenderDisplayName    string     `json:"sender_display_name"`
	Recipient            string     `json:"recipient,omitempty"`
	RecipientDisplayName string     `json:"recipient_display_name,omitempty"`
	Subject              string     `json:"subject,omitempty"`
	Body                 string     `json:"body"`
	Priority             Priority   `json:"priority"`
	ParentID             *int64     `json:"parent_id,omitempty"`
	State                State      `json:"state"`
	Status               Status     `json:"status"`
	NationalCode         string     `json:"national_code,omitempty"`
	Recipients           string     `json:"recipients,omitempty"`
	NotifyOffline        bool       `json:"notify_offline"`
	CreatedAt            time.Time  `json:"created_at"`
	ModifiedAt           *time.Time `json:"modified_at,omitempty"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
	DeletedBy            string     `json:"deleted_by,omitempty"`
	Version              int64      `json:"version"`
}

func (m Message) IsActive() bool {
	return m.State == StateActive
}

type SendRequest struct {
	Sender               string
	SenderDisplayName    string
	Recipient            string
	RecipientDisplayName string
	Subject              string
	Body                 string
	Priority             string
	ParentID             *int64
	NationalCode         string
	Recipients           string
	NotifyOffline        bool
}

// SearchCriteria fields are optional and ANDed together. Query matches the
// body case-insensitively.
type SearchCriteria struct {
	Query     string
	Sender    string
	Recipient string
	Subject   string
	Priority  string
	From      *time.Time
	To        *time.Time
	Page      int
	Size      int
}

type Stats struct {
	Sent         int64 `json:"sent"`
	Received     int64 `json:"received"`
	Unread       int64 `json:"unread"`
	Total        int64 `json:"total"`
	Today        int64 `json:"today"`
	HighPriority int64 `json:"high_priority"`
}

type Page struct {
	Items         []Message `json:"items"`
	Page          int       `json:"page"`
	Size          int       `json:"size"`
	TotalElements int64     `json:"total_elements"`
	TotalPages    int       `json:"total_pages"`
	HasMore       bool      `json:"has_more"`
}

func newPage(items []Message, page, size int, total int64) Page {
	if items == nil {
		items = []Message{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return Page{
		Items:         items,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
		HasMore:       page+1 < totalPages,
	}
}
