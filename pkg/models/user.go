package models

import "time"

// DefaultRating is the rating assigned to newly registered users.
const DefaultRating = 1000

// User is the persistent account record. PasswordHash never leaves the
// service layer.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Rating       int       `db:"rating" json:"rating"`
	Wins         int       `db:"wins" json:"wins"`
	Losses       int       `db:"losses" json:"losses"`
	Draws        int       `db:"draws" json:"draws"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// UserStats is the aggregate profile view returned by the stats endpoint.
type UserStats struct {
	UserID       string  `json:"user_id"`
	Rating       int     `json:"rating"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Draws        int     `json:"draws"`
	TotalMatches int     `json:"total_matches"`
	WinRate      float64 `json:"win_rate"`
}
