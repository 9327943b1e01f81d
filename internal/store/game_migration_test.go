package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGameMigrationEnforcesBoardInvariants(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0003_game.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"position BETWEEN 0 AND 24 AND position <> 12",
		"UNIQUE (card_id, position)",
		"UNIQUE (team_id, member_id)",
		"ON review_threads(cell_id) WHERE status = 'open'",
		"PRIMARY KEY (thread_id, voter_id)",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
