package model

import "time"

// Admin is a dashboard operator. Admin credentials are separate from
// end-user accounts and at least one admin must always exist.
type Admin struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StarRating is a user's 1 to 5 rating of the app. One row per username.
type StarRating struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}
