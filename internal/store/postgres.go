package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id=$1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email=$1`, email)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `WHERE username=$1`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	query := `
		SELECT id, username, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at
		FROM users ` + where
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3 WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_email_verified, COALESCE(u.verification_token, ''), u.verification_expires_at, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, team Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create team: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, goal, status, invite_code, created_by)
		VALUES ($1, $2, $3, 'setup', $4, $5)
	`, team.ID, team.Name, team.Goal, team.InviteCode, team.CreatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert team: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)
	`, team.ID, team.CreatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	return s.getTeam(ctx, `WHERE id=$1`, teamID)
}

func (s *PostgresStore) GetTeamByInviteCode(ctx context.Context, code string) (Team, error) {
	return s.getTeam(ctx, `WHERE invite_code=$1`, code)
}

func (s *PostgresStore) getTeam(ctx context.Context, where string, arg any) (Team, error) {
	query := `
		SELECT id, name, goal, status, invite_code, created_by, started_at, created_at
		FROM teams ` + where
	var team Team
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&team.ID,
		&team.Name,
		&team.Goal,
		&team.Status,
		&team.InviteCode,
		&team.CreatedBy,
		&team.StartedAt,
		&team.CreatedAt,
	)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.goal, t.status, t.invite_code, t.created_by, t.started_at, t.created_at
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id=$1
		ORDER BY t.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	items := make([]Team, 0)
	for rows.Next() {
		var item Team
		if err := rows.Scan(&item.ID, &item.Name, &item.Goal, &item.Status, &item.InviteCode, &item.CreatedBy, &item.StartedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tm.team_id, tm.user_id, u.username, tm.joined_at
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id=$1
		ORDER BY tm.joined_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMember, 0)
	for rows.Next() {
		var item TeamMember
		if err := rows.Scan(&item.TeamID, &item.UserID, &item.Username, &item.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM team_members WHERE team_id=$1 AND user_id=$2)
	`, teamID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check team membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CountTeamMembers(ctx context.Context, teamID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id=$1`, teamID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count team members: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateTeamGoal(ctx context.Context, teamID, goal string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE teams SET goal=$2 WHERE id=$1 AND status='setup'
	`, teamID, goal)
	if err != nil {
		return false, fmt.Errorf("update team goal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update team goal rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertProvidedResolution(ctx context.Context, item ProvidedResolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provided_resolutions (id, team_id, for_user_id, author_id, body)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.TeamID, item.ForUserID, item.AuthorID, item.Body)
	if err != nil {
		return fmt.Errorf("insert provided resolution: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProvidedResolutionsFor(ctx context.Context, teamID, forUserID string) ([]ProvidedResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, for_user_id, author_id, body, created_at
		FROM provided_resolutions
		WHERE team_id=$1 AND for_user_id=$2
		ORDER BY created_at ASC
	`, teamID, forUserID)
	if err != nil {
		return nil, fmt.Errorf("list provided resolutions: %w", err)
	}
	defer rows.Close()

	items := make([]ProvidedResolution, 0)
	for rows.Next() {
		var item ProvidedResolution
		if err := rows.Scan(&item.ID, &item.TeamID, &item.ForUserID, &item.AuthorID, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan provided resolution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provided resolutions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertPersonalResolution(ctx context.Context, item PersonalResolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personal_resolutions (id, owner_id, body)
		VALUES ($1, $2, $3)
	`, item.ID, item.OwnerID, item.Body)
	if err != nil {
		return fmt.Errorf("insert personal resolution: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPersonalResolutions(ctx context.Context, ownerID string) ([]PersonalResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, body, created_at
		FROM personal_resolutions
		WHERE owner_id=$1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list personal resolutions: %w", err)
	}
	defer rows.Close()

	items := make([]PersonalResolution, 0)
	for rows.Next() {
		var item PersonalResolution
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan personal resolution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personal resolutions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeletePersonalResolution(ctx context.Context, resolutionID, ownerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM personal_resolutions WHERE id=$1 AND owner_id=$2
	`, resolutionID, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete personal resolution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete personal resolution rows: %w", err)
	}
	return affected > 0, nil
}

// StartTeam flips the team to started and persists every member's freshly
// generated card plus zeroed leaderboard entries in one transaction. Returns
// false without side effects when the team is not in setup anymore.
func (s *PostgresStore) StartTeam(ctx context.Context, teamID string, cards []NewCard) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin start team: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE teams SET status='started', started_at=NOW() WHERE id=$1 AND status='setup'
	`, teamID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("start team: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("start team rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	for _, card := range cards {
		if err := insertCardTx(ctx, tx, card); err != nil {
			_ = tx.Rollback()
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO leaderboard_entries (team_id, member_id, completed_tasks)
			VALUES ($1, $2, 0)
			ON CONFLICT (team_id, member_id) DO NOTHING
		`, card.Card.TeamID, card.Card.MemberID); err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("seed leaderboard entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit start team: %w", err)
	}
	return true, nil
}

// CreateCardWithCells persists a single member's card transactionally. Used
// for members who join after the game started. Returns false when a card for
// the member already exists.
func (s *PostgresStore) CreateCardWithCells(ctx context.Context, card NewCard) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin create card: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO cards (id, team_id, member_id, grid_size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, member_id) DO NOTHING
	`, card.Card.ID, card.Card.TeamID, card.Card.MemberID, card.Card.GridSize)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert card rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	for _, cell := range card.Cells {
		if err := insertCellTx(ctx, tx, cell); err != nil {
			_ = tx.Rollback()
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (team_id, member_id, completed_tasks)
		VALUES ($1, $2, 0)
		ON CONFLICT (team_id, member_id) DO NOTHING
	`, card.Card.TeamID, card.Card.MemberID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("seed leaderboard entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit create card: %w", err)
	}
	return true, nil
}

func insertCardTx(ctx context.Context, tx *sql.Tx, card NewCard) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cards (id, team_id, member_id, grid_size)
		VALUES ($1, $2, $3, $4)
	`, card.Card.ID, card.Card.TeamID, card.Card.MemberID, card.Card.GridSize); err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	for _, cell := range card.Cells {
		if err := insertCellTx(ctx, tx, cell); err != nil {
			return err
		}
	}
	return nil
}

func insertCellTx(ctx context.Context, tx *sql.Tx, cell Cell) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cells (id, card_id, position, source_type, source_user_id, resolution_id, resolved_text, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
	`, cell.ID, cell.CardID, cell.Position, cell.SourceType, cell.SourceUserID, cell.ResolutionID, cell.ResolvedText); err != nil {
		return fmt.Errorf("insert cell: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	var card Card
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, member_id, grid_size, created_at
		FROM cards
		WHERE id=$1
	`, cardID).Scan(&card.ID, &card.TeamID, &card.MemberID, &card.GridSize, &card.CreatedAt)
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

func (s *PostgresStore) GetCardByMember(ctx context.Context, teamID, memberID string) (Card, error) {
	var card Card
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, member_id, grid_size, created_at
		FROM cards
		WHERE team_id=$1 AND member_id=$2
	`, teamID, memberID).Scan(&card.ID, &card.TeamID, &card.MemberID, &card.GridSize, &card.CreatedAt)
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

func (s *PostgresStore) ListCells(ctx context.Context, cardID string) ([]Cell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, position, source_type, source_user_id, resolution_id, resolved_text, state, updated_at
		FROM cells
		WHERE card_id=$1
		ORDER BY position ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	items := make([]Cell, 0)
	for rows.Next() {
		var item Cell
		if err := rows.Scan(
			&item.ID,
			&item.CardID,
			&item.Position,
			&item.SourceType,
			&item.SourceUserID,
			&item.ResolutionID,
			&item.ResolvedText,
			&item.State,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCell(ctx context.Context, cellID string) (Cell, error) {
	var cell Cell
	err := s.db.QueryRowContext(ctx, `
		SELECT id, card_id, position, source_type, source_user_id, resolution_id, resolved_text, state, updated_at
		FROM cells
		WHERE id=$1
	`, cellID).Scan(
		&cell.ID,
		&cell.CardID,
		&cell.Position,
		&cell.SourceType,
		&cell.SourceUserID,
		&cell.ResolutionID,
		&cell.ResolvedText,
		&cell.State,
		&cell.UpdatedAt,
	)
	if err != nil {
		return Cell{}, err
	}
	return cell, nil
}

func (s *PostgresStore) GetCellByPosition(ctx context.Context, cardID string, position int) (Cell, error) {
	var cell Cell
	err := s.db.QueryRowContext(ctx, `
		SELECT id, card_id, position, source_type, source_user_id, resolution_id, resolved_text, state, updated_at
		FROM cells
		WHERE card_id=$1 AND position=$2
	`, cardID, position).Scan(
		&cell.ID,
		&cell.CardID,
		&cell.Position,
		&cell.SourceType,
		&cell.SourceUserID,
		&cell.ResolutionID,
		&cell.ResolvedText,
		&cell.State,
		&cell.UpdatedAt,
	)
	if err != nil {
		return Cell{}, err
	}
	return cell, nil
}

// UpdateCellState moves a cell between states with a compare-and-set on the
// current state. Returns false when the cell was not in fromState.
func (s *PostgresStore) UpdateCellState(ctx context.Context, cellID, fromState, toState string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cells SET state=$3, updated_at=NOW() WHERE id=$1 AND state=$2
	`, cellID, fromState, toState)
	if err != nil {
		return false, fmt.Errorf("update cell state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update cell state rows: %w", err)
	}
	return affected > 0, nil
}

// OpenReviewThread creates an open thread for a completed cell and flips the
// cell to pending_review as one atomic unit. Returns false when the cell is
// no longer completed or an open thread already exists.
func (s *PostgresStore) OpenReviewThread(ctx context.Context, thread ReviewThread) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin open thread: %w", err)
	}

	var openExists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM review_threads WHERE cell_id=$1 AND status='open')
	`, thread.CellID).Scan(&openExists); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("check open thread: %w", err)
	}
	if openExists {
		_ = tx.Rollback()
		return false, nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE cells SET state='pending_review', updated_at=NOW() WHERE id=$1 AND state='completed'
	`, thread.CellID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("flip cell to pending_review: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("flip cell rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_threads (id, cell_id, completed_by, opened_by, status)
		VALUES ($1, $2, $3, $4, 'open')
	`, thread.ID, thread.CellID, thread.CompletedBy, thread.OpenedBy); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert review thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit open thread: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetReviewThread(ctx context.Context, threadID string) (ReviewThread, error) {
	var thread ReviewThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cell_id, completed_by, opened_by, status, outcome, created_at, closed_at
		FROM review_threads
		WHERE id=$1
	`, threadID).Scan(
		&thread.ID,
		&thread.CellID,
		&thread.CompletedBy,
		&thread.OpenedBy,
		&thread.Status,
		&thread.Outcome,
		&thread.CreatedAt,
		&thread.ClosedAt,
	)
	if err != nil {
		return ReviewThread{}, err
	}
	return thread, nil
}

func (s *PostgresStore) GetOpenThreadByCell(ctx context.Context, cellID string) (*ReviewThread, error) {
	var thread ReviewThread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cell_id, completed_by, opened_by, status, outcome, created_at, closed_at
		FROM review_threads
		WHERE cell_id=$1 AND status='open'
	`, cellID).Scan(
		&thread.ID,
		&thread.CellID,
		&thread.CompletedBy,
		&thread.OpenedBy,
		&thread.Status,
		&thread.Outcome,
		&thread.CreatedAt,
		&thread.ClosedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open thread: %w", err)
	}
	return &thread, nil
}

func (s *PostgresStore) InsertReviewMessage(ctx context.Context, message ReviewMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_messages (id, thread_id, author_id, body)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.ThreadID, message.AuthorID, message.Body)
	if err != nil {
		return fmt.Errorf("insert review message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewMessages(ctx context.Context, threadID string) ([]ReviewMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, author_id, body, created_at
		FROM review_messages
		WHERE thread_id=$1
		ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list review messages: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewMessage, 0)
	for rows.Next() {
		var item ReviewMessage
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.AuthorID, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertReviewFile(ctx context.Context, file ReviewFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_files (id, thread_id, uploader_id, path, size_bytes, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, file.ID, file.ThreadID, file.UploaderID, file.Path, file.SizeBytes, file.MimeType)
	if err != nil {
		return fmt.Errorf("insert review file: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewFiles(ctx context.Context, threadID string) ([]ReviewFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, uploader_id, path, size_bytes, mime_type, created_at
		FROM review_files
		WHERE thread_id=$1
		ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list review files: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewFile, 0)
	for rows.Next() {
		var item ReviewFile
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.UploaderID, &item.Path, &item.SizeBytes, &item.MimeType, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review files: %w", err)
	}
	return items, nil
}

// UpsertReviewVote records or overwrites a voter's vote while the thread is
// open. Vote changes update updated_at so the latest vote per voter wins.
func (s *PostgresStore) UpsertReviewVote(ctx context.Context, threadID, voterID, vote string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_votes (thread_id, voter_id, vote)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id, voter_id)
		DO UPDATE SET vote=EXCLUDED.vote, updated_at=NOW()
	`, threadID, voterID, vote)
	if err != nil {
		return fmt.Errorf("upsert review vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReviewVotes(ctx context.Context, threadID string) ([]ReviewVote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, voter_id, vote, updated_at
		FROM review_votes
		WHERE thread_id=$1
		ORDER BY updated_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list review votes: %w", err)
	}
	defer rows.Close()

	items := make([]ReviewVote, 0)
	for rows.Next() {
		var item ReviewVote
		if err := rows.Scan(&item.ThreadID, &item.VoterID, &item.Vote, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan review vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review votes: %w", err)
	}
	return items, nil
}

// ResolveReviewThread closes an open thread and settles its cell in one
// transaction. The compare-and-set on thread status guarantees that of two
// racing quorum observers only one performs the side effects; the loser gets
// false. Message and file rows are deleted on close, votes are kept. Returns
// the stored file paths so the caller can delete blobs after commit.
func (s *PostgresStore) ResolveReviewThread(ctx context.Context, threadID, cellID, outcome, newCellState string) (bool, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin resolve thread: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE review_threads
		SET status='closed', outcome=$2, closed_at=NOW()
		WHERE id=$1 AND status='open'
	`, threadID, outcome)
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("close thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("close thread rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE cells SET state=$2, updated_at=NOW() WHERE id=$1 AND state='pending_review'
	`, cellID, newCellState)
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("settle cell: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("settle cell rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("settle cell: cell %s not in pending_review", cellID)
	}

	paths, err := deleteThreadContentTx(ctx, tx, threadID)
	if err != nil {
		_ = tx.Rollback()
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit resolve thread: %w", err)
	}
	return true, paths, nil
}

// UndoCellCompletion resets a cell to pending from completed, pending_review,
// or accomplished, force-closing any open thread and deleting its content in
// the same transaction. Returns false when the cell was already pending.
func (s *PostgresStore) UndoCellCompletion(ctx context.Context, cellID string) (bool, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin undo: %w", err)
	}

	var threadID string
	err = tx.QueryRowContext(ctx, `
		UPDATE review_threads
		SET status='closed', closed_at=NOW()
		WHERE cell_id=$1 AND status='open'
		RETURNING id
	`, cellID).Scan(&threadID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("force-close thread: %w", err)
	}

	var paths []string
	if threadID != "" {
		paths, err = deleteThreadContentTx(ctx, tx, threadID)
		if err != nil {
			_ = tx.Rollback()
			return false, nil, err
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE cells SET state='pending', updated_at=NOW()
		WHERE id=$1 AND state IN ('completed', 'pending_review', 'accomplished')
	`, cellID)
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("reset cell: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, nil, fmt.Errorf("reset cell rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil, nil
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit undo: %w", err)
	}
	return true, paths, nil
}

func deleteThreadContentTx(ctx context.Context, tx *sql.Tx, threadID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path FROM review_files WHERE thread_id=$1`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread file paths: %w", err)
	}
	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan thread file path: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate thread file paths: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_messages WHERE thread_id=$1`, threadID); err != nil {
		return nil, fmt.Errorf("delete thread messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM review_files WHERE thread_id=$1`, threadID); err != nil {
		return nil, fmt.Errorf("delete thread files: %w", err)
	}
	return paths, nil
}

func (s *PostgresStore) UpsertLeaderboardEntry(ctx context.Context, entry LeaderboardEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (team_id, member_id, completed_tasks, first_bingo_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, member_id)
		DO UPDATE SET completed_tasks=EXCLUDED.completed_tasks, first_bingo_at=EXCLUDED.first_bingo_at, updated_at=NOW()
	`, entry.TeamID, entry.MemberID, entry.CompletedTasks, entry.FirstBingoAt)
	if err != nil {
		return fmt.Errorf("upsert leaderboard entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLeaderboard(ctx context.Context, teamID string) ([]LeaderboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT le.member_id, u.username, le.completed_tasks, le.first_bingo_at
		FROM leaderboard_entries le
		JOIN users u ON u.id = le.member_id
		WHERE le.team_id=$1
		ORDER BY le.first_bingo_at ASC NULLS LAST, le.completed_tasks DESC, u.username ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	items := make([]LeaderboardRow, 0)
	for rows.Next() {
		var item LeaderboardRow
		if err := rows.Scan(&item.MemberID, &item.Username, &item.CompletedTasks, &item.FirstBingoAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
