package messages

import (
	"context"
	"time"

	"chatcore/pkg/room"
)

type ParentSummary struct {
	ID                int64     `json:"id"`
	Sender            string    `json:"sender"`
	SenderDisplayName string    `json:"sender_display_name"`
	Message           string    `json:"message"`
	CreatedAt         time.Time `json:"created_at"`
}

// MessageDTO is the REST shape of a message.
type MessageDTO struct {
	ID                   int64          `json:"id"`
	Sender               string         `json:"sender"`
	SenderDisplayName    string         `json:"sender_display_name"`
	Recipient            string         `json:"recipient,omitempty"`
	RecipientDisplayName string         `json:"recipient_display_name,omitempty"`
	Subject              string         `json:"subject,omitempty"`
	Message              string         `json:"message"`
	Priority             Priority       `json:"priority"`
	Status               Status         `json:"status"`
	IsRead               bool           `json:"is_read"`
	IsActive             bool           `json:"is_active"`
	ParentMessageID      *int64         `json:"parent_message_id,omitempty"`
	ParentMessage        *ParentSummary `json:"parent_message,omitempty"`
	RoomID               string         `json:"room_id,omitempty"`
	NationalCode         string         `json:"national_code,omitempty"`
	Recipients           string         `json:"recipients,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	ModifiedAt           *time.Time     `json:"modified_at,omitempty"`
	DeletedAt            *time.Time     `json:"deleted_at,omitempty"`
}

type PageDTO struct {
	Items         []MessageDTO `json:"items"`
	Page          int          `json:"page"`
	Size          int          `json:"size"`
	TotalElements int64        `json:"total_elements"`
	TotalPages    int          `json:"total_pages"`
	HasMore       bool         `json:"has_more"`
}

// ParentLookup returns an active message by id.
type ParentLookup func(ctx context.Context, id int64) (Message, error)

func ToDTO(m Message, parent *Message) MessageDTO {
	dto := MessageDTO{
		ID:                   m.ID,
		Sender:               m.Sender,
		SenderDisplayName:    m.SenderDisplayName,
		Recipient:            m.Recipient,
		RecipientDisplayName: m.RecipientDisplayName,
		Subject:              m.Subject,
		Message:              m.Body,
		Priority:             m.Priority,
		Status:               m.Status,
		IsRead:               m.Status == StatusRead,
		IsActive:             m.IsActive(),
		ParentMessageID:      m.ParentID,
		RoomID:               room.Resolve("", m.Sender, m.Recipient),
		NationalCode:         m.NationalCode,
		Recipients:           m.Recipients,
		CreatedAt:            m.CreatedAt,
		ModifiedAt:           m.ModifiedAt,
		DeletedAt:            m.DeletedAt,
	}
	if parent != nil {
		dto.ParentMessage = &ParentSummary{
			ID:                parent.ID,
			Sender:            parent.Sender,
			SenderDisplayName: parent.SenderDisplayName,
			Message:           parent.Body,
			CreatedAt:         parent.CreatedAt,
		}
	}
	return dto
}

// ToPageDTO expands a page, fetching each distinct parent once. Parents that
// are gone are left out of the summary.
func ToPageDTO(ctx context.Context, p Page, lookup ParentLookup) PageDTO {
	parents := make(map[int64]*Message)
	items := make([]MessageDTO, 0, len(p.Items))
	for _, m := range p.Items {
		var parent *Message
		if m.ParentID != nil && lookup != nil {
			cached, seen := parents[*m.ParentID]
			if !seen {
				if pm, err := lookup(ctx, *m.ParentID); err == nil {
					cached = &pm
				}
				parents[*m.ParentID] = cached
			}
			parent = cached
		}
		items = append(items, ToDTO(m, parent))
	}
	return PageDTO{
		Items:         items,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		HasMore:       p.HasMore,
	}
}
