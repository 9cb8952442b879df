package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrVersionConflict = errors.New("message version conflict")
)

//go:generate mockgen -destination=./mock_messages_repo.go -package=messages . MessageRepository

// MessageRepository is the durable message store. Reads never return
// soft-deleted rows except ListDeleted. Update methods take the version the
// caller last saw and fail with ErrVersionConflict when it moved on.
type MessageRepository interface {
	Create(ctx context.Context, m Message) (Message, error)
	GetActiveByID(ctx context.Context, id int64) (Message, error)
	UpdateBody(ctx context.Context, id int64, body string, version int64, at time.Time) (Message, error)
	SoftDelete(ctx context.Context, id int64, actor string, version int64, at time.Time) (Message, error)
	MarkRead(ctx context.Context, id int64) (Message, error)
	ListConversation(ctx context.Context, userA, userB string, limit, offset int) ([]Message, int64, error)
	ListSent(ctx context.Context, sender string, limit, offset int) ([]Message, int64, error)
	ListReceived(ctx context.Context, recipient string, limit, offset int) ([]Message, int64, error)
	Search(ctx context.Context, c SearchCriteria, limit, offset int) ([]Message, int64, error)
	ListDeleted(ctx context.Context, limit, offset int) ([]Message, int64, error)
	Stats(ctx context.Context, user string, since time.Time) (Stats, error)
}

type postgresMessageRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresMessageRepository(pool *pgxpool.Pool, timeout time.Duration) MessageRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &postgresMessageRepository{pool: pool, timeout: timeout}
}

const messageColumns = `id, sender, sender_display_name, COALESCE(recipient, ''), recipient_display_name,
	COALESCE(subject, ''), body, priority, parent_id, is_active, status, national_code, recipients,
	notify_offline, created_at, modified_at, deleted_at, COALESCE(deleted_by, ''), version`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	var active bool
	var priority, status string
	if err := row.Scan(&m.ID, &m.Sender, &m.SenderDisplayName, &m.Recipient, &m.RecipientDisplayName,
		&m.Subject, &m.Body, &priority, &m.ParentID, &active, &status, &m.NationalCode, &m.Recipients,
		&m.NotifyOffline, &m.CreatedAt, &m.ModifiedAt, &m.DeletedAt, &m.DeletedBy, &m.Version); err != nil {
		return Message{}, err
	}
	m.Priority = Priority(priority)
	m.Status = Status(status)
	m.State = StateDeleted
	if active {
		m.State = StateActive
	}
	return m, nil
}

func (r *postgresMessageRepository) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.timeout)
}

// Create inserts the message. The parent link is resolved in the same
// statement so a parent deleted in the meantime ends up as NULL.
func (r *postgresMessageRepository) Create(ctx context.Context, m Message) (Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	query := `INSERT INTO messages (sender, sender_display_name, recipient, recipient_display_name, subject, body,
			priority, parent_id, status, is_active, national_code, recipients, notify_offline, created_at, version)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7,
			(SELECT p.id FROM messages p WHERE p.id = $8 AND p.is_active = true),
			$9, true, $10, $11, $12, $13, 1)
		RETURNING ` + messageColumns

	row := r.pool.QueryRow(ctx, query, m.Sender, m.SenderDisplayName, m.Recipient, m.RecipientDisplayName,
		m.Subject, m.Body, string(m.Priority), m.ParentID, string(m.Status), m.NationalCode, m.Recipients,
		m.NotifyOffline, m.CreatedAt)
	out, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return out, nil
}

func (r *postgresMessageRepository) GetActiveByID(ctx context.Context, id int64) (Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND is_active = true`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *postgresMessageRepository) UpdateBody(ctx context.Context, id int64, body string, version int64, at time.Time) (Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `UPDATE messages
		SET body = $2, modified_at = $3, version = version + 1
		WHERE id = $1 AND is_active = true AND version = $4
		RETURNING `+messageColumns, id, body, at, version)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, r.missOrConflict(ctx, id)
		}
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

// SoftDelete is the only place that flips a message to deleted; body,
// deleted_at and is_active change together.
func (r *postgresMessageRepository) SoftDelete(ctx context.Context, id int64, actor string, version int64, at time.Time) (Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `UPDATE messages
		SET is_active = false, body = '', deleted_at = $2, deleted_by = NULLIF($3, ''), version = version + 1
		WHERE id = $1 AND is_active = true AND version = $4
		RETURNING `+messageColumns, id, at, actor, version)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, r.missOrConflict(ctx, id)
		}
		return Message{}, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}

func (r *postgresMessageRepository) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND is_active = true)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check message: %w", err)
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrMessageNotFound
}

// MarkRead is idempotent: an already read message is returned unchanged.
func (r *postgresMessageRepository) MarkRead(ctx context.Context, id int64) (Message, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `UPDATE messages
		SET status = 'READ', version = version + 1
		WHERE id = $1 AND is_active = true AND status <> 'READ'
		RETURNING `+messageColumns, id)
	m, err := scanMessage(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("mark message read: %w", err)
	}
	return r.GetActiveByID(ctx, id)
}

func (r *postgresMessageRepository) ListConversation(ctx context.Context, userA, userB string, limit, offset int) ([]Message, int64, error) {
	where := `is_active = true AND ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))`
	return r.list(ctx, where, "created_at DESC, id DESC", []any{userA, userB}, limit, offset)
}

func (r *postgresMessageRepository) ListSent(ctx context.Context, sender string, limit, offset int) ([]Message, int64, error) {
	return r.list(ctx, `is_active = true AND sender = $1`, "created_at DESC, id DESC", []any{sender}, limit, offset)
}

func (r *postgresMessageRepository) ListReceived(ctx context.Context, recipient string, limit, offset int) ([]Message, int64, error) {
	return r.list(ctx, `is_active = true AND recipient = $1`, "created_at DESC, id DESC", []any{recipient}, limit, offset)
}

func (r *postgresMessageRepository) ListDeleted(ctx context.Context, limit, offset int) ([]Message, int64, error) {
	return r.list(ctx, `is_active = false AND deleted_at IS NOT NULL`, "deleted_at DESC, id DESC", nil, limit, offset)
}

func (r *postgresMessageRepository) Search(ctx context.Context, c SearchCriteria, limit, offset int) ([]Message, int64, error) {
	whereClauses := []string{"is_active = true"}
	args := []any{}
	argPos := 1

	if c.Query != "" {
		whereClauses = append(whereClauses, fmt.Sprintf(`body ILIKE $%d ESCAPE '\'`, argPos))
		args = append(args, "%"+escapeLike(c.Query)+"%")
		argPos++
	}
	if c.Sender != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("sender = $%d", argPos))
		args = append(args, c.Sender)
		argPos++
	}
	if c.Recipient != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("recipient = $%d", argPos))
		args = append(args, c.Recipient)
		argPos++
	}
	if c.Subject != "" {
		whereClauses = append(whereClauses, fmt.Sprintf(`subject ILIKE $%d ESCAPE '\'`, argPos))
		args = append(args, "%"+escapeLike(c.Subject)+"%")
		argPos++
	}
	if c.Priority != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("priority = $%d", argPos))
		args = append(args, c.Priority)
		argPos++
	}
	if c.From != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *c.From)
		argPos++
	}
	if c.To != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *c.To)
		argPos++
	}

	return r.list(ctx, strings.Join(whereClauses, " AND "), "created_at DESC, id DESC", args, limit, offset)
}

// list runs a page query and its count with the same filter. where uses
// placeholders $1..$len(args); limit and offset are appended after them.
func (r *postgresMessageRepository) list(ctx context.Context, where, orderBy string, args []any, limit, offset int) ([]Message, int64, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	argPos := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		messageColumns, where, orderBy, argPos, argPos+1)

	rows, err := r.pool.Query(ctx, query, append(append([]any{}, args...), limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	list := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	return list, total, nil
}

func (r *postgresMessageRepository) Stats(ctx context.Context, user string, since time.Time) (Stats, error) {
	ctx, cancel := r.ctx(ctx)
	defer cancel()

	var s Stats
	err := r.pool.QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE sender = $1),
			COUNT(*) FILTER (WHERE recipient = $1),
			COUNT(*) FILTER (WHERE recipient = $1 AND status = 'SENT'),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*) FILTER (WHERE priority IN ('high', 'urgent'))
		FROM messages
		WHERE is_active = true AND (sender = $1 OR recipient = $1)`, user, since).
		Scan(&s.Sent, &s.Received, &s.Unread, &s.Today, &s.HighPriority)
	if err != nil {
		return Stats{}, fmt.Errorf("message stats: %w", err)
	}
	s.Total = s.Sent + s.Received
	return s, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
