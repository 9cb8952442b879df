package messages

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryMessageRepository keeps messages in process. It backs CHAT_STORE=memory
// and the service tests.
type memoryMessageRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]Message
}

func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{rows: make(map[int64]Message)}
}

func (r *memoryMessageRepository) Create(_ context.Context, m Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	m.ID = r.nextID
	m.State = StateActive
	m.Version = 1
	if m.ParentID != nil {
		if p, ok := r.rows[*m.ParentID]; !ok || !p.IsActive() {
			m.ParentID = nil
		}
	}
	r.rows[m.ID] = m
	return m, nil
}

func (r *memoryMessageRepository) GetActiveByID(_ context.Context, id int64) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.rows[id]
	if !ok || !m.IsActive() {
		return Message{}, ErrMessageNotFound
	}
	return m, nil
}

func (r *memoryMessageRepository) mutate(id, version int64, fn func(m *Message)) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || !m.IsActive() {
		return Message{}, ErrMessageNotFound
	}
	if version != m.Version {
		return Message{}, ErrVersionConflict
	}
	fn(&m)
	m.Version++
	r.rows[id] = m
	return m, nil
}

func (r *memoryMessageRepository) UpdateBody(_ context.Context, id int64, body string, version int64, at time.Time) (Message, error) {
	return r.mutate(id, version, func(m *Message) {
		m.Body = body
		m.ModifiedAt = &at
	})
}

func (r *memoryMessageRepository) SoftDelete(_ context.Context, id int64, actor string, version int64, at time.Time) (Message, error) {
	return r.mutate(id, version, func(m *Message) {
		m.State = StateDeleted
		m.Body = ""
		m.DeletedAt = &at
		m.DeletedBy = actor
	})
}

func (r *memoryMessageRepository) MarkRead(_ context.Context, id int64) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || !m.IsActive() {
		return Message{}, ErrMessageNotFound
	}
	if m.Status != StatusRead {
		m.Status = StatusRead
		m.Version++
		r.rows[id] = m
	}
	return m, nil
}

func (r *memoryMessageRepository) ListConversation(_ context.Context, userA, userB string, limit, offset int) ([]Message, int64, error) {
	return r.filter(func(m Message) bool {
		return m.IsActive() && ((m.Sender == userA && m.Recipient == userB) || (m.Sender == userB && m.Recipient == userA))
	}, byCreatedDesc, limit, offset)
}

func (r *memoryMessageRepository) ListSent(_ context.Context, sender string, limit, offset int) ([]Message, int64, error) {
	return r.filter(func(m Message) bool {
		return m.IsActive() && m.Sender == sender
	}, byCreatedDesc, limit, offset)
}

func (r *memoryMessageRepository) ListReceived(_ context.Context, recipient string, limit, offset int) ([]Message, int64, error) {
	return r.filter(func(m Message) bool {
		return m.IsActive() && m.Recipient == recipient
	}, byCreatedDesc, limit, offset)
}

func (r *memoryMessageRepository) ListDeleted(_ context.Context, limit, offset int) ([]Message, int64, error) {
	return r.filter(func(m Message) bool {
		return !m.IsActive() && m.DeletedAt != nil
	}, func(a, b Message) bool {
		if !a.DeletedAt.Equal(*b.DeletedAt) {
			return a.DeletedAt.After(*b.DeletedAt)
		}
		return a.ID > b.ID
	}, limit, offset)
}

func (r *memoryMessageRepository) Search(_ context.Context, c SearchCriteria, limit, offset int) ([]Message, int64, error) {
	query := strings.ToLower(c.Query)
	subject := strings.ToLower(c.Subject)
	return r.filter(func(m Message) bool {
		switch {
		case !m.IsActive():
			return false
		case query != "" && !strings.Contains(strings.ToLower(m.Body), query):
			return false
		case c.Sender != "" && m.Sender != c.Sender:
			return false
		case c.Recipient != "" && m.Recipient != c.Recipient:
			return false
		case subject != "" && !strings.Contains(strings.ToLower(m.Subject), subject):
			return false
		case c.Priority != "" && string(m.Priority) != c.Priority:
			return false
		case c.From != nil && m.CreatedAt.Before(*c.From):
			return false
		case c.To != nil && m.CreatedAt.After(*c.To):
			return false
		}
		return true
	}, byCreatedDesc, limit, offset)
}

func (r *memoryMessageRepository) Stats(_ context.Context, user string, since time.Time) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, m := range r.rows {
		if !m.IsActive() || (m.Sender != user && m.Recipient != user) {
			continue
		}
		if m.Sender == user {
			s.Sent++
		}
		if m.Recipient == user {
			s.Received++
			if m.Status == StatusSent {
				s.Unread++
			}
		}
		if !m.CreatedAt.Before(since) {
			s.Today++
		}
		if m.Priority == PriorityHigh || m.Priority == PriorityUrgent {
			s.HighPriority++
		}
	}
	s.Total = s.Sent + s.Received
	return s, nil
}

func byCreatedDesc(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (r *memoryMessageRepository) filter(keep func(Message) bool, less func(a, b Message) bool, limit, offset int) ([]Message, int64, error) {
	r.mu.RLock()
	matched := make([]Message, 0)
	for _, m := range r.rows {
		if keep(m) {
			matched = append(matched, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	total := int64(len(matched))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []Message{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}
