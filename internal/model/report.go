package model

import "time"

// Report is a crowd-sourced hazard observation shown on the shared map.
// Reports are immutable; only an admin can delete one.
type Report struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
