package model

import (
	"time"
	"unicode/utf8"
)

// HistoryID is assigned by the history repository and increases monotonically
type HistoryID int64

// SnippetLength is the maximum number of characters kept from a guide in history
const SnippetLength = 250

// SnippetEllipsis is appended to a snippet when the guide was truncated
const SnippetEllipsis = "..."

// HistoryItem is one past generation request as shown in the recent list
type HistoryItem struct {
	ID        HistoryID `json:"id"`
	GameName  string    `json:"game_name"`
	GuideType GuideType `json:"guide_type"`
	Platform  Platform  `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRecord is what gets persisted. Snippet is write-only: it is stored
// but never returned by list operations.
type HistoryRecord struct {
	HistoryItem
	Snippet string
}

// Snippet truncates a guide to SnippetLength characters, appending
// SnippetEllipsis if anything was cut.
func Snippet(guide string) string {
	if utf8.RuneCountInString(guide) <= SnippetLength {
		return guide
	}
	runes := []rune(guide)
	return string(runes[:SnippetLength]) + SnippetEllipsis
}
