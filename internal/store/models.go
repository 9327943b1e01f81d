package store

import "time"

type User struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

type Team struct {
	ID         string
	Name       string
	Goal       string
	Status     string
	InviteCode string
	CreatedBy  string
	StartedAt  *time.Time
	CreatedAt  time.Time
}

type TeamMember struct {
	TeamID   string
	UserID   string
	Username string
	JoinedAt time.Time
}

type ProvidedResolution struct {
	ID        string
	TeamID    string
	ForUserID string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

type PersonalResolution struct {
	ID        string
	OwnerID   string
	Body      string
	CreatedAt time.Time
}

type Card struct {
	ID        string
	TeamID    string
	MemberID  string
	GridSize  int
	CreatedAt time.Time
}

type Cell struct {
	ID           string
	CardID       string
	Position     int
	SourceType   string
	SourceUserID *string
	ResolutionID *string
	ResolvedText string
	State        string
	UpdatedAt    time.Time
}

type ReviewThread struct {
	ID          string
	CellID      string
	CompletedBy string
	OpenedBy    string
	Status      string
	Outcome     string
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

type ReviewMessage struct {
	ID        string
	ThreadID  string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

type ReviewFile struct {
	ID         string
	ThreadID   string
	UploaderID string
	Path       string
	SizeBytes  int64
	MimeType   string
	CreatedAt  time.Time
}

type ReviewVote struct {
	ThreadID  string
	VoterID   string
	Vote      string
	UpdatedAt time.Time
}

type LeaderboardEntry struct {
	TeamID         string
	MemberID       string
	CompletedTasks int
	FirstBingoAt   *time.Time
	UpdatedAt      time.Time
}

// LeaderboardRow is a leaderboard entry joined with the member's username
// for display ordering.
type LeaderboardRow struct {
	MemberID       string
	Username       string
	CompletedTasks int
	FirstBingoAt   *time.Time
}

// NewCard bundles a card with its cells for transactional generation.
type NewCard struct {
	Card  Card
	Cells []Cell
}
