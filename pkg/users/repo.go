package users

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user exists with that username or email")
)

//go:generate mockgen -destination=./mock_users_repo.go -package=users . UserRepository

type UserRepository interface {
	CreateUser(ctx context.Context, username, displayName, email string) (User, error)
	UpdateUser(ctx context.Context, username, displayName, email string) (User, error)
	DeleteUser(ctx context.Context, username string) error
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error)
	UpdateLastActive(ctx context.Context, username string, at time.Time) error
}

type postgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) UserRepository {
	return &postgresUserRepository{pool: pool}
}

const userColumns = `id, username, display_name, COALESCE(email, ''), last_active_at, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.LastActiveAt, &u.CreatedAt)
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *postgresUserRepository) CreateUser(ctx context.Context, username, displayName, email string) (User, error) {
	query := `INSERT INTO users (username, display_name, email, created_at)
              VALUES ($1, $2, NULLIF($3, ''), NOW())
              RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query, username, displayName, email))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return u, nil
}

func (r *postgresUserRepository) UpdateUser(ctx context.Context, username, displayName, email string) (User, error) {
	query := `UPDATE users
              SET display_name = $2, email = NULLIF($3, '')
              WHERE username = $1 AND is_deleted = false
              RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query, username, displayName, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return u, nil
}

func (r *postgresUserRepository) DeleteUser(ctx context.Context, username string) error {
	cmd, err := r.pool.Exec(ctx, "UPDATE users SET email = NULL, is_deleted = true WHERE username = $1 AND is_deleted = false", username)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *postgresUserRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	query := `SELECT ` + userColumns + `
              FROM users
              WHERE username = $1 AND is_deleted = false`
	u, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *postgresUserRepository) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	query := `SELECT ` + userColumns + `
              FROM users
              WHERE is_deleted = false
              ORDER BY id
              LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	countRow := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE is_deleted = false")
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, err
	}

	return list, total, nil
}

func (r *postgresUserRepository) UpdateLastActive(ctx context.Context, username string, at time.Time) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd, err := r.pool.Exec(ctxTimeout, `UPDATE users SET last_active_at = $2 WHERE username = $1 AND is_deleted = false`, username, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

type memoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]User
}

// NewMemoryUserRepository backs the directory when no database is configured.
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[string]User)}
}

func (r *memoryUserRepository) emailTaken(email, except string) bool {
	if email == "" {
		return false
	}
	for name, u := range r.users {
		if name != except && u.Email == email {
			return true
		}
	}
	return false
}

func (r *memoryUserRepository) CreateUser(_ context.Context, username, displayName, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[username]; ok || r.emailTaken(email, "") {
		return User{}, ErrUserExists
	}
	r.nextID++
	u := User{ID: r.nextID, Username: username, DisplayName: displayName, Email: email, CreatedAt: time.Now().UTC()}
	r.users[username] = u
	return u, nil
}

func (r *memoryUserRepository) UpdateUser(_ context.Context, username, displayName, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if r.emailTaken(email, username) {
		return User{}, ErrUserExists
	}
	u.DisplayName = displayName
	u.Email = email
	r.users[username] = u
	return u, nil
}

func (r *memoryUserRepository) DeleteUser(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[username]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, username)
	return nil
}

func (r *memoryUserRepository) GetUserByUsername(_ context.Context, username string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *memoryUserRepository) ListUsers(_ context.Context, limit, offset int) ([]User, int64, error) {
	r.mu.RLock()
	list := make([]User, 0, len(r.users))
	for _, u := range r.users {
		list = append(list, u)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	total := int64(len(list))
	if offset >= len(list) {
		return []User{}, total, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end], total, nil
}

func (r *memoryUserRepository) UpdateLastActive(_ context.Context, username string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.LastActiveAt = &at
	r.users[username] = u
	return nil
}
