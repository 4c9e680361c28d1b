package models

// TreeEdge pins one account into the hierarchy. Every account has exactly
// one edge; roots point at themselves.
type TreeEdge struct {
	UserID     int64 `json:"user_id" db:"user_id"`
	ParentID   int64 `json:"parent_id" db:"parent_id"`
	Type       int   `json:"type" db:"type"`
	ParentType int   `json:"parent_type" db:"parent_type"`
}
