// Package services holds the persistence-backed domain services: users,
// matches, and challenges. Services return sentinel errors and
// ValidationErrors; the API edge maps them to HTTP statuses.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Match history pagination bounds.
const (
	MinHistoryLimit = 1
	MaxHistoryLimit = 100
)

// tokenLifetime bounds issued JWTs.
const tokenLifetime = 24 * time.Hour

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

// UserService manages accounts, authentication, and per-user stats.
type UserService struct {
	db        *sqlx.DB
	jwtSecret []byte
}

// NewUserService creates a user service.
func NewUserService(db *sqlx.DB, jwtSecret string) *UserService {
	return &UserService{db: db, jwtSecret: []byte(jwtSecret)}
}

// Register creates an account with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if !usernameRe.MatchString(username) {
		return nil, NewValidationError("username", "must be 3-32 characters of letters, digits, or underscore")
	}
	if !strings.Contains(email, "@") {
		return nil, NewValidationError("email", "must be a valid email address")
	}
	if len(password) < 8 {
		return nil, NewValidationError("password", "must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Rating:       models.DefaultRating,
		CreatedAt:    time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, rating, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Rating, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username or email taken: %w", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues a signed JWT.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("loading user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(&user)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// issueToken signs a JWT carrying the user id and username.
func (s *UserService) issueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT and returns the user id it carries.
func (s *UserService) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidCredentials
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCredentials
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidCredentials
	}
	return sub, nil
}

// User fetches an account by id.
func (s *UserService) User(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

// UpdateProfile changes the username.
func (s *UserService) UpdateProfile(ctx context.Context, userID, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if !usernameRe.MatchString(username) {
		return nil, NewValidationError("username", "must be 3-32 characters of letters, digits, or underscore")
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET username = $1 WHERE id = $2`, username, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username taken: %w", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return s.User(ctx, userID)
}

// Stats returns the aggregate stats view for a user.
func (s *UserService) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{
		UserID:       user.ID,
		Rating:       user.Rating,
		Wins:         user.Wins,
		Losses:       user.Losses,
		Draws:        user.Draws,
		TotalMatches: user.Wins + user.Losses + user.Draws,
	}
	if stats.TotalMatches > 0 {
		stats.WinRate = float64(user.Wins) / float64(stats.TotalMatches)
	}
	return stats, nil
}

// MatchHistory returns the user's matches, newest first. limit must be in
// [1,100]; offset must be non-negative.
func (s *UserService) MatchHistory(ctx context.Context, userID string, limit, offset int) ([]models.Match, error) {
	if limit < MinHistoryLimit || limit > MaxHistoryLimit {
		return nil, NewValidationError("limit", fmt.Sprintf("must be between %d and %d", MinHistoryLimit, MaxHistoryLimit))
	}
	if offset < 0 {
		return nil, NewValidationError("offset", "must be non-negative")
	}

	var matches []models.Match
	err := s.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches
		 WHERE player1_id = $1 OR player2_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("loading match history: %w", err)
	}
	return matches, nil
}

// ApplyRatingChange adjusts a user's rating (never below zero) and win/loss/
// draw counters, returning the new rating.
func (s *UserService) ApplyRatingChange(ctx context.Context, userID string, delta int, outcome string) (int, error) {
	column, ok := map[string]string{"win": "wins", "loss": "losses", "draw": "draws"}[outcome]
	if !ok {
		return 0, NewValidationError("outcome", "must be win, loss, or draw")
	}

	var newRating int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE users
		 SET rating = GREATEST(rating + $1, 0), %s = %s + 1
		 WHERE id = $2
		 RETURNING rating`, column, column),
		delta, userID).Scan(&newRating)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("applying rating change: %w", err)
	}
	return newRating, nil
}

// isUniqueViolation detects a postgres unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}
