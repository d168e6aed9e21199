package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrFileNotFound       = errors.New("file not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAPIKey      = errors.New("invalid api key")
)

// Store holds file metadata and accounts. It speaks either MySQL or
// Postgres; queries are written with ? placeholders and rebound for
// Postgres.
type Store struct {
	db     *sql.DB
	driver string
}

// FileMeta is everything about a stored file except its content.
type FileMeta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	BlobKey     string    `json:"-"`
	Backend     string    `json:"backend"`
	CreatedAt   time.Time `json:"created_at"`
}

type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type APIKey struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	KeyPrefix string    `json:"key_prefix"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// New opens the metadata database. driver is "mysql" or "postgres".
func New(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// DB exposes the underlying pool for the download publisher and the
// inventory report streamer, which manage their own transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) InitSchema(ctx context.Context) error {
	serial := "BIGINT AUTO_INCREMENT PRIMARY KEY"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + serial + `,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id ` + serial + `,
			user_id BIGINT NOT NULL,
			key_hash VARCHAR(255) NOT NULL UNIQUE,
			key_prefix VARCHAR(10) NOT NULL,
			type VARCHAR(10) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_used_at TIMESTAMP NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(512) NOT NULL,
			content_type VARCHAR(255) NOT NULL,
			size BIGINT NOT NULL,
			blob_key VARCHAR(255) NOT NULL,
			backend VARCHAR(32) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// --- Files ---

func (s *Store) CreateFile(ctx context.Context, meta *FileMeta) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO files (id, name, content_type, size, blob_key, backend) VALUES (?, ?, ?, ?, ?, ?)"),
		meta.ID, meta.Name, meta.ContentType, meta.Size, meta.BlobKey, meta.Backend)
	if err != nil {
		return fmt.Errorf("file insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*FileMeta, error) {
	var meta FileMeta
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, name, content_type, size, blob_key, backend, created_at FROM files WHERE id = ?"), id).
		Scan(&meta.ID, &meta.Name, &meta.ContentType, &meta.Size, &meta.BlobKey, &meta.Backend, &meta.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file lookup failed: %w", err)
	}
	return &meta, nil
}

func (s *Store) ListFiles(ctx context.Context, limit, offset int) ([]FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, name, content_type, size, blob_key, backend, created_at FROM files ORDER BY created_at DESC LIMIT ? OFFSET ?"),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("file listing failed: %w", err)
	}
	defer rows.Close()

	var files []FileMeta
	for rows.Next() {
		var meta FileMeta
		if err := rows.Scan(&meta.ID, &meta.Name, &meta.ContentType, &meta.Size, &meta.BlobKey, &meta.Backend, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("file scan failed: %w", err)
		}
		files = append(files, meta)
	}
	return files, rows.Err()
}

// DeleteFile removes the metadata row and returns what it pointed at so the
// caller can release the blob.
func (s *Store) DeleteFile(ctx context.Context, id string) (*FileMeta, error) {
	meta, err := s.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM files WHERE id = ?"), id); err != nil {
		return nil, fmt.Errorf("file delete failed: %w", err)
	}
	return meta, nil
}

// DownloadQuery is the single-row lookup the download publisher runs. It
// selects the blob key first, then the columns folded into the result's
// extra data.
func (s *Store) DownloadQuery() string {
	return s.rebind("SELECT blob_key, name, content_type, size FROM files WHERE id = ?")
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO users (email, password_hash) VALUES (?, ?)"), email, string(hash))
	if err != nil {
		return fmt.Errorf("user insert failed: %w", err)
	}
	return nil
}

func (s *Store) AuthenticateUser(ctx context.Context, email, password string) (*User, error) {
	var user User
	var hash string
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?"), email).
		Scan(&user.ID, &user.Email, &hash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// --- API keys ---

func (s *Store) CreateAPIKey(ctx context.Context, userID int, keyType string) (string, error) {
	suffix := fmt.Sprintf("%d_%d", userID, time.Now().UnixNano())
	rawKey := fmt.Sprintf("bv_%s_%s", keyType, suffix)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO api_keys (user_id, key_hash, key_prefix, type) VALUES (?, ?, ?, ?)"),
		userID, string(hash), rawKey[:10], keyType)
	if err != nil {
		return "", fmt.Errorf("api key insert failed: %w", err)
	}
	return rawKey, nil
}

func (s *Store) VerifyAPIKey(ctx context.Context, rawKey string) (*APIKey, error) {
	prefix := rawKey
	if len(rawKey) > 10 {
		prefix = rawKey[:10]
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, user_id, key_hash, key_prefix, type, created_at FROM api_keys WHERE key_prefix = ?"), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var k APIKey
		var hash string
		if err := rows.Scan(&k.ID, &k.UserID, &hash, &k.KeyPrefix, &k.Type, &k.CreatedAt); err != nil {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawKey)); err == nil {
			return &k, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

func (s *Store) ListAPIKeys(ctx context.Context, userID int) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, user_id, key_prefix, type, created_at FROM api_keys WHERE user_id = ? ORDER BY created_at DESC"), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.Type, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
