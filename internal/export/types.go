// Package export renders a member's bingo card as a printable document.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// Request contains parameters for an export operation
type Request struct {
	CardID string
	Format Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// CardInfo holds card metadata for export
type CardInfo struct {
	ID       string
	TeamID   string
	TeamName string
	TeamGoal string
	Username string
}

// CellInfo holds one cell of the 5x5 board, joker included
type CellInfo struct {
	Position int
	Text     string
	State    string
	IsJoker  bool
	IsEmpty  bool
}

// StandingInfo holds one leaderboard row for the card footer
type StandingInfo struct {
	Username       string
	CompletedTasks int
	FirstBingoAt   *time.Time
}

var (
	// ErrRendererMissing indicates the headless browser needed for
	// rendering is not installed.
	ErrRendererMissing = errors.New("export renderer missing")
)
