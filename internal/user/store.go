package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alecgard/indexgate/internal/auth"
	"github.com/alecgard/indexgate/internal/crypto"
)

// Store provides database operations for users, their upstream credentials
// and their access tokens.
type Store struct {
	pool   *pgxpool.Pool
	cipher *crypto.Cipher
}

// NewStore creates a new user store backed by the given connection pool.
// cipher may be nil, in which case API keys are stored as given.
func NewStore(pool *pgxpool.Pool, cipher *crypto.Cipher) *Store {
	return &Store{pool: pool, cipher: cipher}
}

// Create inserts a new user with its upstream credentials.
func (s *Store) Create(ctx context.Context, in CreateUserInput) (*User, error) {
	sealed, err := s.cipher.Seal(in.Credentials.APIKey)
	if err != nil {
		return nil, fmt.Errorf("sealing api key: %w", err)
	}

	u := &User{}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, api_key, organization_id, project_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, email, created_at`,
		uuid.NewString(), in.Email, nullIfEmpty(sealed),
		nullIfEmpty(in.Credentials.OrganizationID), nullIfEmpty(in.Credentials.ProjectID),
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// GetCredentials returns the user's upstream credentials with the API key
// decrypted. Missing columns come back as empty strings; ErrNotFound is
// returned only when the user row itself does not exist.
func (s *Store) GetCredentials(ctx context.Context, userID string) (*Credentials, error) {
	var apiKey, orgID, projectID *string
	err := s.pool.QueryRow(ctx,
		`SELECT api_key, organization_id, project_id FROM users WHERE id = $1`, userID,
	).Scan(&apiKey, &orgID, &projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting credentials: %w", err)
	}

	key, err := s.cipher.Open(deref(apiKey))
	if err != nil {
		return nil, fmt.Errorf("opening api key: %w", err)
	}
	return &Credentials{
		APIKey:         key,
		OrganizationID: deref(orgID),
		ProjectID:      deref(projectID),
	}, nil
}

// SetCredentials replaces the user's upstream credentials.
func (s *Store) SetCredentials(ctx context.Context, userID string, c Credentials) error {
	sealed, err := s.cipher.Seal(c.APIKey)
	if err != nil {
		return fmt.Errorf("sealing api key: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET api_key = $2, organization_id = $3, project_id = $4 WHERE id = $1`,
		userID, nullIfEmpty(sealed), nullIfEmpty(c.OrganizationID), nullIfEmpty(c.ProjectID),
	)
	if err != nil {
		return fmt.Errorf("setting credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAccessToken issues a token for userID valid for ttl. It returns the
// plaintext token, which is not stored and cannot be recovered.
func (s *Store) CreateAccessToken(ctx context.Context, userID string, ttl time.Duration) (string, *AccessToken, error) {
	plaintext, hash, err := auth.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	tok := &AccessToken{}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO access_tokens (token_hash, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, user_id, created_at, expires_at`,
		hash, userID, now, now.Add(ttl),
	).Scan(&tok.TokenHash, &tok.UserID, &tok.CreatedAt, &tok.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating access token: %w", err)
	}
	return plaintext, tok, nil
}

// GetAccessToken looks up a token by hash. Expiry is not checked here.
func (s *Store) GetAccessToken(ctx context.Context, hash string) (*AccessToken, error) {
	tok := &AccessToken{}
	err := s.pool.QueryRow(ctx,
		`SELECT token_hash, user_id, created_at, expires_at
		 FROM access_tokens WHERE token_hash = $1`, hash,
	).Scan(&tok.TokenHash, &tok.UserID, &tok.CreatedAt, &tok.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting access token: %w", err)
	}
	return tok, nil
}

// DeleteExpiredTokens deletes all access tokens that have expired.
func (s *Store) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM access_tokens WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
