package messages

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"chatcore/pkg/apperrors"
	"chatcore/pkg/logger"
)

const (
	DefaultPageSize = 15
	MaxPageSize     = 100
)

type MessageService interface {
	Send(ctx context.Context, req SendRequest) (Message, error)
	Edit(ctx context.Context, id int64, actor, body string) (Message, error)
	Delete(ctx context.Context, id int64, actor string) (Message, error)
	MarkRead(ctx context.Context, id int64) (Message, error)
	GetByID(ctx context.Context, id int64) (Message, error)
	GetConversation(ctx context.Context, userA, userB string, page, size int) (Page, error)
	GetSent(ctx context.Context, sender string, page, size int) (Page, error)
	GetReceived(ctx context.Context, recipient string, page, size int) (Page, error)
	Search(ctx context.Context, c SearchCriteria) (Page, error)
	GetDeleted(ctx context.Context, page, size int) (Page, error)
	Stats(ctx context.Context, user string) (Stats, error)
}

// DisplayNames resolves a user's display name. Lookups that fail fall back to
// the raw user id.
type DisplayNames interface {
	DisplayName(ctx context.Context, username string) (string, error)
}

type ServiceConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

type messageService struct {
	repo  MessageRepository
	names DisplayNames
	log   logger.Logger
	cfg   ServiceConfig
	now   func() time.Time
}

func NewMessageService(repo MessageRepository, names DisplayNames, log logger.Logger, cfg ServiceConfig) MessageService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = MaxPageSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &messageService{
		repo:  repo,
		names: names,
		log:   log,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *messageService) Send(ctx context.Context, req SendRequest) (Message, error) {
	sender := strings.TrimSpace(req.Sender)
	recipient := strings.TrimSpace(req.Recipient)
	body := strings.TrimSpace(req.Body)

	if sender == "" {
		return Message{}, apperrors.Validation("sender is required")
	}
	if recipient == "" {
		return Message{}, apperrors.Validation("recipient is required")
	}
	if body == "" {
		return Message{}, apperrors.Validation("message content is required")
	}
	if sender == recipient {
		return Message{}, apperrors.Validation("cannot send messages to yourself")
	}
	priority, ok := ParsePriority(req.Priority)
	if !ok {
		return Message{}, apperrors.Validation("priority must be one of normal, high, urgent")
	}

	m := Message{
		Sender:               sender,
		SenderDisplayName:    s.displayName(ctx, sender, req.SenderDisplayName),
		Recipient:            recipient,
		RecipientDisplayName: s.displayName(ctx, recipient, req.RecipientDisplayName),
		Subject:              strings.TrimSpace(req.Subject),
		Body:                 body,
		Priority:             priority,
		State:                StateActive,
		Status:               StatusSent,
		NationalCode:         strings.TrimSpace(req.NationalCode),
		Recipients:           strings.TrimSpace(req.Recipients),
		NotifyOffline:        req.NotifyOffline,
		CreatedAt:            s.now(),
		Version:              1,
	}

	if req.ParentID != nil {
		if _, err := s.repo.GetActiveByID(ctx, *req.ParentID); err != nil {
			if !errors.Is(err, ErrMessageNotFound) {
				return Message{}, s.internal("lookup parent", err)
			}
			s.log.Warn("parent message not found, sending without parent", "parent_id", *req.ParentID, "sender", sender)
		} else {
			parentID := *req.ParentID
			m.ParentID = &parentID
		}
	}

	saved, err := s.repo.Create(ctx, m)
	if err != nil {
		return Message{}, s.internal("save message", err)
	}
	return saved, nil
}

func (s *messageService) displayName(ctx context.Context, username, given string) string {
	if name := strings.TrimSpace(given); name != "" {
		return name
	}
	if s.names != nil {
		name, err := s.names.DisplayName(ctx, username)
		if err == nil && strings.TrimSpace(name) != "" {
			return name
		}
	}
	return username
}

func (s *messageService) Edit(ctx context.Context, id int64, actor, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, apperrors.Validation("message content is required")
	}

	current, err := s.ownedMessage(ctx, id, actor, "edit")
	if err != nil {
		return Message{}, err
	}

	updated, err := s.repo.UpdateBody(ctx, id, body, current.Version, s.now())
	if err != nil {
		return Message{}, s.mutationError("edit message", err)
	}
	return updated, nil
}

func (s *messageService) Delete(ctx context.Context, id int64, actor string) (Message, error) {
	current, err := s.ownedMessage(ctx, id, actor, "delete")
	if err != nil {
		return Message{}, err
	}

	deleted, err := s.repo.SoftDelete(ctx, id, strings.TrimSpace(actor), current.Version, s.now())
	if err != nil {
		return Message{}, s.mutationError("delete message", err)
	}
	return deleted, nil
}

// ownedMessage loads an active message and, when actor is set, checks that
// the actor wrote it.
func (s *messageService) ownedMessage(ctx context.Context, id int64, actor, verb string) (Message, error) {
	m, err := s.repo.GetActiveByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return Message{}, apperrors.NotFound("message not found")
		}
		return Message{}, s.internal("load message", err)
	}
	if actor = strings.TrimSpace(actor); actor != "" && actor != m.Sender {
		return Message{}, apperrors.Forbidden("forbidden: only the sender may " + verb + " this message")
	}
	return m, nil
}

func (s *messageService) mutationError(op string, err error) error {
	switch {
	case errors.Is(err, ErrMessageNotFound):
		return apperrors.NotFound("message not found")
	case errors.Is(err, ErrVersionConflict):
		return apperrors.Conflict("message was modified concurrently")
	default:
		return s.internal(op, err)
	}
}

func (s *messageService) internal(op string, err error) error {
	s.log.Error("message store failure", "op", op, "error", err)
	return apperrors.Internal(err)
}

func (s *messageService) MarkRead(ctx context.Context, id int64) (Message, error) {
	m, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return Message{}, apperrors.NotFound("message not found")
		}
		return Message{}, s.internal("mark read", err)
	}
	return m, nil
}

func (s *messageService) GetByID(ctx context.Context, id int64) (Message, error) {
	m, err := s.repo.GetActiveByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return Message{}, apperrors.NotFound("message not found")
		}
		return Message{}, s.internal("get message", err)
	}
	return m, nil
}

func (s *messageService) GetConversation(ctx context.Context, userA, userB string, page, size int) (Page, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return Page{}, apperrors.Validation("both participants are required")
	}
	page, size, offset, err := s.paging(page, size)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.ListConversation(ctx, userA, userB, size, offset)
	if err != nil {
		return Page{}, s.internal("list conversation", err)
	}
	return newPage(items, page, size, total), nil
}

func (s *messageService) GetSent(ctx context.Context, sender string, page, size int) (Page, error) {
	if sender = strings.TrimSpace(sender); sender == "" {
		return Page{}, apperrors.Validation("username is required")
	}
	page, size, offset, err := s.paging(page, size)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.ListSent(ctx, sender, size, offset)
	if err != nil {
		return Page{}, s.internal("list sent", err)
	}
	return newPage(items, page, size, total), nil
}

func (s *messageService) GetReceived(ctx context.Context, recipient string, page, size int) (Page, error) {
	if recipient = strings.TrimSpace(recipient); recipient == "" {
		return Page{}, apperrors.Validation("username is required")
	}
	page, size, offset, err := s.paging(page, size)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.ListReceived(ctx, recipient, size, offset)
	if err != nil {
		return Page{}, s.internal("list received", err)
	}
	return newPage(items, page, size, total), nil
}

func (s *messageService) Search(ctx context.Context, c SearchCriteria) (Page, error) {
	c.Query = strings.TrimSpace(c.Query)
	c.Sender = strings.TrimSpace(c.Sender)
	c.Recipient = strings.TrimSpace(c.Recipient)
	c.Subject = strings.TrimSpace(c.Subject)
	if strings.TrimSpace(c.Priority) != "" {
		p, ok := ParsePriority(c.Priority)
		if !ok {
			return Page{}, apperrors.Validation("priority must be one of normal, high, urgent")
		}
		c.Priority = string(p)
	} else {
		c.Priority = ""
	}
	if c.From != nil && c.To != nil && c.From.After(*c.To) {
		return Page{}, apperrors.Validation("start date must not be after end date")
	}

	page, size, offset, err := s.paging(c.Page, c.Size)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.Search(ctx, c, size, offset)
	if err != nil {
		return Page{}, s.internal("search", err)
	}
	return newPage(items, page, size, total), nil
}

func (s *messageService) GetDeleted(ctx context.Context, page, size int) (Page, error) {
	page, size, offset, err := s.paging(page, size)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.ListDeleted(ctx, size, offset)
	if err != nil {
		return Page{}, s.internal("list deleted", err)
	}
	return newPage(items, page, size, total), nil
}

// Stats counts are scoped to the user. "Today" starts at UTC midnight.
func (s *messageService) Stats(ctx context.Context, user string) (Stats, error) {
	if user = strings.TrimSpace(user); user == "" {
		return Stats{}, apperrors.Validation("username is required")
	}
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	st, err := s.repo.Stats(ctx, user, midnight)
	if err != nil {
		return Stats{}, s.internal("stats", err)
	}
	return st, nil
}

// paging clamps page and size and returns the row offset. A page so large that
// the offset would overflow is the caller's mistake.
func (s *messageService) paging(page, size int) (int, int, int, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = s.cfg.DefaultPageSize
	}
	if size > s.cfg.MaxPageSize {
		size = s.cfg.MaxPageSize
	}
	if page > math.MaxInt32/size {
		return 0, 0, 0, apperrors.Validation("page is out of range")
	}
	return page, size, page * size, nil
}
