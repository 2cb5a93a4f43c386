package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Account is a login identity. Student accounts point at a students row.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	StudentID    *string
}

// Subject is the id carried in the account's tokens.
func (a Account) Subject() string {
	if a.Role == RoleStudent && a.StudentID != nil {
		return *a.StudentID
	}
	return a.ID
}

// AccountStore looks accounts up by email; missing accounts return sql.ErrNoRows.
type AccountStore interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
	CreateAccount(ctx context.Context, a Account) error
}

// Repository reads accounts from the users table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// AccountByEmail returns the account registered under email.
func (r *Repository) AccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, student_id
		FROM users WHERE lower(email) = lower($1)
	`, email).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.StudentID)
	return a, err
}

// CreateAccount inserts a user row.
func (r *Repository) CreateAccount(ctx context.Context, a Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, student_id)
		VALUES ($1,$2,$3,$4,$5)
	`, a.ID, a.Email, a.PasswordHash, a.Role, a.StudentID)
	return err
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Role        string    `json:"role"`
	Subject     string    `json:"subject"`
}

// Service authenticates accounts and issues access tokens.
type Service struct {
	store  AccountStore
	issuer string
	key    string
	ttl    time.Duration
}

// NewService wires the login flow.
func NewService(store AccountStore, issuer, key string, ttl time.Duration) *Service {
	return &Service{store: store, issuer: issuer, key: key, ttl: ttl}
}

// Login checks the password against the stored bcrypt hash.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	acct, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if acct.Role == RoleStudent && acct.StudentID == nil {
		return Session{}, errors.New("student account has no student record")
	}

	tok, err := Issue(acct.Subject(), acct.Role, s.issuer, s.key, s.ttl)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: tok.Token, ExpiresAt: tok.ExpiresAt, Role: acct.Role, Subject: acct.Subject()}, nil
}

// Register hashes password and stores a new account.
func (s *Service) Register(ctx context.Context, a Account, password string) error {
	if a.Role != RoleTeacher && a.Role != RoleStudent {
		return errors.New("role must be teacher or student")
	}
	if a.Role == RoleStudent && a.StudentID == nil {
		return errors.New("student accounts need a student id")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return s.store.CreateAccount(ctx, a)
}

// HashPassword returns a bcrypt hash suitable for users.password_hash.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
