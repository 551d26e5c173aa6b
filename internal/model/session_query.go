package model

const (
	OrderNewest          = "created_at DESC, id DESC"
	OrderRecentlyUpdated = "updated_at DESC, id DESC"
)

// SessionQuery selects sessions from a store. Zero values mean "no
// constraint"; Limit 0 returns every match.
type SessionQuery struct {
	UserID     uint
	Status     string
	Category   string
	Tags       []string
	Search     string
	Order      string
	Offset     int
	Limit      int
	WithAuthor bool
}

type Pagination struct {
	CurrentPage   int   `json:"currentPage"`
	TotalPages    int   `json:"totalPages"`
	TotalSessions int64 `json:"totalSessions"`
}

type SessionPage struct {
	Sessions   []Session  `json:"sessions"`
	Pagination Pagination `json:"pagination"`
}
