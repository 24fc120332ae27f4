package model

// Overview is the admin dashboard headline numbers.
type Overview struct {
	TotalUsers      int            `json:"total_users"`
	VerifiedUsers   int            `json:"verified_users"`
	TotalReports    int            `json:"total_reports"`
	ActiveSOS       int            `json:"active_sos"`
	RecentReports   int            `json:"recent_reports"`
	RecentUsers     int            `json:"recent_users"`
	ReportsCategory map[string]int `json:"reports_by_category"`
}

// Trends holds per-day counts, oldest day first.
type Trends struct {
	Dates   []string `json:"dates"`
	Reports []int    `json:"reports"`
	SOS     []int    `json:"sos"`
}

// HeatPoint is one weighted point on the admin heatmap.
type HeatPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Intensity int     `json:"intensity"`
}

// Point is a plain coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
