package store

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

// TestLeaderboardOrdering verifies the display order: earliest bingo first,
// members without a bingo after them by completed count, username as the
// final tiebreak.
func TestLeaderboardOrdering(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	pg := NewPostgresStore(db)

	members := []string{"lbord-zoe", "lbord-finn", "lbord-mia", "lbord-avery", "lbord-drew"}
	teamID := seedLeaderboardTeam(ctx, t, db, members)
	defer cleanupLeaderboardTeam(ctx, db, teamID)

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	firstBingo := base.Add(time.Hour)
	laterBingo := base.Add(2 * time.Hour)

	// Seed zoe twice so the ON CONFLICT update path is exercised too.
	if err := pg.UpsertLeaderboardEntry(ctx, LeaderboardEntry{
		TeamID: teamID, MemberID: "user-lbord-zoe", CompletedTasks: 2,
	}); err != nil {
		t.Fatalf("seed zoe: %v", err)
	}

	entries := []LeaderboardEntry{
		{TeamID: teamID, MemberID: "user-lbord-zoe", CompletedTasks: 3, FirstBingoAt: &firstBingo},
		{TeamID: teamID, MemberID: "user-lbord-finn", CompletedTasks: 20, FirstBingoAt: &laterBingo},
		{TeamID: teamID, MemberID: "user-lbord-mia", CompletedTasks: 9},
		{TeamID: teamID, MemberID: "user-lbord-avery", CompletedTasks: 7},
		{TeamID: teamID, MemberID: "user-lbord-drew", CompletedTasks: 7},
	}
	for _, entry := range entries {
		if err := pg.UpsertLeaderboardEntry(ctx, entry); err != nil {
			t.Fatalf("upsert %s: %v", entry.MemberID, err)
		}
	}

	rows, err := pg.ListLeaderboard(ctx, teamID)
	if err != nil {
		t.Fatalf("list leaderboard: %v", err)
	}

	want := []string{"lbord-zoe", "lbord-finn", "lbord-mia", "lbord-avery", "lbord-drew"}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, username := range want {
		if rows[i].Username != username {
			t.Fatalf("position %d: expected %s, got %s", i, username, rows[i].Username)
		}
	}
	if rows[0].CompletedTasks != 3 || rows[0].FirstBingoAt == nil {
		t.Fatalf("expected zoe's second upsert to win, got %+v", rows[0])
	}
}

func seedLeaderboardTeam(ctx context.Context, t *testing.T, db *sql.DB, usernames []string) string {
	t.Helper()

	teamID := "team-lbord"
	for _, username := range usernames {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username, email, password_hash)
			VALUES ($1, $2, $3, 'x')
			ON CONFLICT (id) DO NOTHING
		`, "user-"+username, username, username+"@example.com"); err != nil {
			t.Fatalf("seed user %s: %v", username, err)
		}
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO teams (id, name, goal, status, invite_code, created_by)
		VALUES ($1, 'Leaderboard Crew', 'ship it', 'started', 'invite-lbord', $2)
		ON CONFLICT (id) DO NOTHING
	`, teamID, "user-"+usernames[0]); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	return teamID
}

func cleanupLeaderboardTeam(ctx context.Context, db *sql.DB, teamID string) {
	_, _ = db.ExecContext(ctx, `DELETE FROM teams WHERE id=$1`, teamID)
	_, _ = db.ExecContext(ctx, `DELETE FROM users WHERE id LIKE 'user-lbord-%'`)
}
