package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"resolutionbingo/api/internal/bingo"
	"resolutionbingo/api/internal/realtime"
	"resolutionbingo/api/internal/search"
	"resolutionbingo/api/internal/store"
	"resolutionbingo/api/internal/util"
)

// cardEntry is one candidate square during generation, before positions are
// assigned.
type cardEntry struct {
	sourceType   string
	sourceUserID *string
	resolutionID *string
	text         string
}

// StartTeam locks the goal, deals every member a card and seeds the
// leaderboard, all in one transaction. Only the creator can start, and only
// once.
func (s *Service) StartTeam(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.CreatedBy != session.UserID {
		return nil, notAuthorized("only the team creator can start the game")
	}
	if team.Status != "setup" {
		return nil, preconditionNotMet("the game has already started")
	}
	if strings.TrimSpace(team.Goal) == "" {
		return nil, preconditionNotMet("set the team goal before starting")
	}

	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(members))
	cards := make([]store.NewCard, 0, len(members))
	for _, member := range members {
		names[member.UserID] = member.Username
		card, err := s.buildCard(ctx, team, member.UserID)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	started, err := s.store.StartTeam(ctx, teamID, cards)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, preconditionNotMet("the game has already started")
	}

	for _, card := range cards {
		s.indexCard(card, names[card.Card.MemberID])
	}
	if s.notify != nil {
		s.notify.NotifyTeamRoom(teamID)
	}
	return s.teamView(ctx, teamID, session.UserID)
}

// GenerateCard deals the caller's card for an already-started team. Calling
// it again returns the existing card unchanged.
func (s *Service) GenerateCard(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.Status != "started" {
		return nil, preconditionNotMet("the game has not started")
	}
	if strings.TrimSpace(team.Goal) == "" {
		return nil, preconditionNotMet("the team has no goal")
	}
	member, err := s.store.IsTeamMember(ctx, teamID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, preconditionNotMet("you are not a member of this team")
	}

	existing, err := s.store.GetCardByMember(ctx, teamID, session.UserID)
	if err == nil {
		return s.cardView(ctx, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	newCard, err := s.buildCard(ctx, team, session.UserID)
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateCardWithCells(ctx, newCard)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost a race with a concurrent generation; the stored card wins.
		existing, err := s.store.GetCardByMember(ctx, teamID, session.UserID)
		if err != nil {
			return nil, err
		}
		return s.cardView(ctx, existing)
	}

	s.indexCard(newCard, session.UserName)
	if s.notify != nil {
		s.notify.NotifyTeamRoom(teamID)
	}
	return s.cardView(ctx, newCard.Card)
}

// buildCard assembles the 24 persisted cells for one member: resolutions
// teammates wrote for them first, the team goal once, then random personal
// resolutions, with empties padding whatever is left. Duplicate text is
// dropped case-insensitively across all sources.
func (s *Service) buildCard(ctx context.Context, team store.Team, memberID string) (store.NewCard, error) {
	provided, err := s.store.ListProvidedResolutionsFor(ctx, team.ID, memberID)
	if err != nil {
		return store.NewCard{}, err
	}
	personal, err := s.store.ListPersonalResolutions(ctx, memberID)
	if err != nil {
		return store.NewCard{}, err
	}

	const capacity = bingo.CellCount - 1

	entries := make([]cardEntry, 0, capacity)
	seen := make(map[string]struct{}, capacity)
	add := func(entry cardEntry) {
		key := strings.ToLower(strings.TrimSpace(entry.text))
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entries = append(entries, entry)
	}

	for _, res := range provided {
		if len(entries) == capacity {
			break
		}
		res := res
		add(cardEntry{
			sourceType:   "member_provided",
			sourceUserID: &res.AuthorID,
			resolutionID: &res.ID,
			text:         res.Body,
		})
	}
	if len(entries) < capacity {
		add(cardEntry{sourceType: "team", text: team.Goal})
	}

	// Draw personal resolutions in 2x batches so de-duplication losses do
	// not leave slots unfilled while the pool still has candidates.
	pool := make([]store.PersonalResolution, len(personal))
	copy(pool, personal)
	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	next := 0
	for len(entries) < capacity && next < len(pool) {
		take := 2 * (capacity - len(entries))
		if take > len(pool)-next {
			take = len(pool) - next
		}
		for _, res := range pool[next : next+take] {
			if len(entries) == capacity {
				break
			}
			res := res
			add(cardEntry{
				sourceType:   "personal",
				sourceUserID: &memberID,
				resolutionID: &res.ID,
				text:         res.Body,
			})
		}
		next += take
	}

	for len(entries) < capacity {
		entries = append(entries, cardEntry{sourceType: "empty"})
	}

	s.shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })

	card := store.Card{
		ID:       util.NewID("card"),
		TeamID:   team.ID,
		MemberID: memberID,
		GridSize: bingo.GridSize,
	}
	cells := make([]store.Cell, 0, capacity)
	index := 0
	for position := 0; position < bingo.CellCount; position++ {
		if position == bingo.JokerPosition {
			continue
		}
		entry := entries[index]
		index++
		cells = append(cells, store.Cell{
			ID:           util.NewID("cell"),
			CardID:       card.ID,
			Position:     position,
			SourceType:   entry.sourceType,
			SourceUserID: entry.sourceUserID,
			ResolutionID: entry.resolutionID,
			ResolvedText: entry.text,
			State:        bingo.StatePending,
		})
	}

	return store.NewCard{Card: card, Cells: cells}, nil
}

func (s *Service) shuffle(n int, swap func(i, j int)) {
	s.rngMu.Lock()
	s.rng.Shuffle(n, swap)
	s.rngMu.Unlock()
}

func (s *Service) indexCard(card store.NewCard, username string) {
	if s.searcher == nil {
		return
	}
	records := make([]search.CellRecord, 0, len(card.Cells))
	for _, cell := range card.Cells {
		if cell.SourceType == "empty" {
			continue
		}
		records = append(records, search.CellRecord{
			ID:       cell.ID,
			TeamID:   card.Card.TeamID,
			MemberID: card.Card.MemberID,
			Username: username,
			Text:     cell.ResolvedText,
			Source:   cell.SourceType,
		})
	}
	if len(records) > 0 {
		s.searcher.IndexCells(records)
	}
}

func (s *Service) GetCard(ctx context.Context, session Session, cardID string) (map[string]any, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, card.TeamID, session.UserID); err != nil {
		return nil, err
	}
	return s.cardView(ctx, card)
}

func (s *Service) GetMyCard(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	return s.GetMemberCard(ctx, session, teamID, session.UserID)
}

func (s *Service) GetMemberCard(ctx context.Context, session Session, teamID, memberID string) (map[string]any, error) {
	if err := s.requireMember(ctx, teamID, session.UserID); err != nil {
		return nil, err
	}
	card, err := s.store.GetCardByMember(ctx, teamID, memberID)
	if err != nil {
		return nil, err
	}
	return s.cardView(ctx, card)
}

// CompleteCell marks the caller's own pending cell completed.
func (s *Service) CompleteCell(ctx context.Context, session Session, cardID string, position int) (map[string]any, error) {
	return s.toggleCell(ctx, session, cardID, position, bingo.StatePending, bingo.StateCompleted, "only a pending cell can be completed")
}

// UncompleteCell is the direct completed-to-pending toggle; it never touches
// cells under or past review, those go through UndoCompletion.
func (s *Service) UncompleteCell(ctx context.Context, session Session, cardID string, position int) (map[string]any, error) {
	return s.toggleCell(ctx, session, cardID, position, bingo.StateCompleted, bingo.StatePending, "only a completed cell can be reverted")
}

func (s *Service) toggleCell(ctx context.Context, session Session, cardID string, position int, fromState, toState, transitionMsg string) (map[string]any, error) {
	card, cell, err := s.cardCell(ctx, cardID, position)
	if err != nil {
		return nil, err
	}
	if card.MemberID != session.UserID {
		return nil, domainError(http.StatusForbidden, "NOT_OWNER", "only the card owner can change this cell", nil)
	}
	if cell.SourceType == "empty" {
		return nil, domainError(http.StatusUnprocessableEntity, "CELL_EMPTY_OR_JOKER", "empty cells cannot be checked", nil)
	}

	changed, err := s.store.UpdateCellState(ctx, cell.ID, fromState, toState)
	if err != nil {
		return nil, err
	}
	if !changed {
		state := cell.State
		if current, err := s.store.GetCell(ctx, cell.ID); err == nil {
			state = current.State
		}
		return nil, invalidTransition(transitionMsg, map[string]any{"state": state})
	}

	s.refreshLeaderboard(ctx, card.TeamID, card.MemberID)
	if s.notify != nil {
		s.notify.NotifyTeamRoom(card.TeamID)
	}
	return s.cardView(ctx, card)
}

// cardCell resolves a (card, position) pair, rejecting the joker before any
// lookup since position 12 has no row.
func (s *Service) cardCell(ctx context.Context, cardID string, position int) (store.Card, store.Cell, error) {
	if position == bingo.JokerPosition {
		return store.Card{}, store.Cell{}, domainError(http.StatusUnprocessableEntity, "CELL_EMPTY_OR_JOKER", "the joker cannot be changed", nil)
	}
	if position < 0 || position >= bingo.CellCount {
		return store.Card{}, store.Cell{}, validationError("position out of range", map[string]any{"position": position})
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, store.Cell{}, err
	}
	cell, err := s.store.GetCellByPosition(ctx, cardID, position)
	if err != nil {
		return store.Card{}, store.Cell{}, err
	}
	return card, cell, nil
}

// RequestProof opens a review thread against a teammate's completed cell and
// parks the cell in pending_review until the vote settles.
func (s *Service) RequestProof(ctx context.Context, session Session, cardID string, position int) (map[string]any, error) {
	card, cell, err := s.cardCell(ctx, cardID, position)
	if err != nil {
		return nil, err
	}
	if cell.SourceType == "empty" {
		return nil, domainError(http.StatusUnprocessableEntity, "CELL_EMPTY_OR_JOKER", "empty cells cannot be reviewed", nil)
	}
	if err := s.requireMember(ctx, card.TeamID, session.UserID); err != nil {
		return nil, err
	}
	if card.MemberID == session.UserID {
		return nil, notAuthorized("you cannot request proof on your own cell")
	}

	if open, err := s.store.GetOpenThreadByCell(ctx, cell.ID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, domainError(http.StatusConflict, "THREAD_ALREADY_OPEN", "this cell is already under review", nil)
	}
	if cell.State != bingo.StateCompleted {
		return nil, invalidTransition("proof can only be requested on a completed cell", map[string]any{"state": cell.State})
	}

	thread := store.ReviewThread{
		ID:          util.NewID("thr"),
		CellID:      cell.ID,
		CompletedBy: card.MemberID,
		OpenedBy:    session.UserID,
	}
	opened, err := s.store.OpenReviewThread(ctx, thread)
	if err != nil {
		return nil, err
	}
	if !opened {
		if open, err := s.store.GetOpenThreadByCell(ctx, cell.ID); err == nil && open != nil {
			return nil, domainError(http.StatusConflict, "THREAD_ALREADY_OPEN", "this cell is already under review", nil)
		}
		return nil, invalidTransition("proof can only be requested on a completed cell", nil)
	}

	s.sendProofRequestEmail(card.MemberID, session.UserName, cell.ResolvedText, thread.ID)
	s.refreshLeaderboard(ctx, card.TeamID, card.MemberID)
	if s.notify != nil {
		s.notify.NotifyTeamRoom(card.TeamID)
	}

	stored, err := s.store.GetReviewThread(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	return s.threadView(ctx, stored)
}

func (s *Service) sendProofRequestEmail(ownerID, challengerName, resolutionText, threadID string) {
	if !s.SMTPConfigured() {
		return
	}
	threadURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/threads/" + threadID
	go func() {
		owner, err := s.store.GetUserByID(context.Background(), ownerID)
		if err != nil {
			log.Printf("load proof request recipient: %v", err)
			return
		}
		if err := s.mail.SendProofRequestEmail(owner.Email, owner.Username, challengerName, resolutionText, threadURL); err != nil {
			log.Printf("send proof request email: %v", err)
		}
	}()
}

func (s *Service) GetThread(ctx context.Context, session Session, threadID string) (map[string]any, error) {
	thread, err := s.store.GetReviewThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	card, _, err := s.threadCard(ctx, thread)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, card.TeamID, session.UserID); err != nil {
		return nil, err
	}
	return s.threadView(ctx, thread)
}

// AddMessage appends to an open thread. Any team member can argue their case
// here, the cell owner included.
func (s *Service) AddMessage(ctx context.Context, session Session, threadID string, input MessageInput) (map[string]any, error) {
	thread, err := s.store.GetReviewThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status != "open" {
		return nil, domainError(http.StatusConflict, "THREAD_CLOSED", "this review is closed", nil)
	}
	card, _, err := s.threadCard(ctx, thread)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, card.TeamID, session.UserID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "EMPTY_CONTENT", "message content is required", nil)
	}

	message := store.ReviewMessage{
		ID:       util.NewID("msg"),
		ThreadID: threadID,
		AuthorID: session.UserID,
		Body:     content,
	}
	if err := s.store.InsertReviewMessage(ctx, message); err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.NotifyThreadRoom(threadID, realtime.ThreadEvent{AuthorUsername: session.UserName, Content: content})
	}
	return s.threadView(ctx, thread)
}

// UploadProofFile stores evidence for the completing user. The blob lands in
// storage first; if the row insert then fails the blob is deleted again so
// nothing leaks.
func (s *Service) UploadProofFile(ctx context.Context, session Session, threadID string, data []byte, mimeType string) (map[string]any, error) {
	thread, err := s.store.GetReviewThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status != "open" {
		return nil, domainError(http.StatusConflict, "THREAD_CLOSED", "this review is closed", nil)
	}
	if thread.CompletedBy != session.UserID {
		return nil, notAuthorized("only the completing user can upload proof")
	}
	if len(data) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "EMPTY_CONTENT", "file is empty", nil)
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "file uploads are not configured", nil)
	}

	name, err := s.files.SaveFile(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	file := store.ReviewFile{
		ID:         util.NewID("file"),
		ThreadID:   threadID,
		UploaderID: session.UserID,
		Path:       name,
		SizeBytes:  int64(len(data)),
		MimeType:   mimeType,
	}
	if err := s.store.InsertReviewFile(ctx, file); err != nil {
		if delErr := s.files.DeleteFile(ctx, name); delErr != nil {
			log.Printf("delete orphaned proof file %s: %v", name, delErr)
		}
		return nil, err
	}

	if s.notify != nil {
		s.notify.NotifyThreadRoom(threadID, realtime.ThreadEvent{AuthorUsername: session.UserName, Content: name})
	}
	return s.threadView(ctx, thread)
}

// SubmitVote records or overwrites the caller's vote and resolves the thread
// once every eligible voter has spoken: accomplished when at least half
// accepted, back to pending otherwise. Whoever wins the close performs the
// side effects exactly once.
func (s *Service) SubmitVote(ctx context.Context, session Session, threadID string, input VoteInput) (map[string]any, error) {
	vote := strings.ToLower(strings.TrimSpace(input.Vote))
	if _, ok := allowedVotes[vote]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_VOTE", "vote must be accept or deny", nil)
	}

	thread, err := s.store.GetReviewThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status != "open" {
		return nil, domainError(http.StatusConflict, "THREAD_CLOSED", "this review is closed", nil)
	}
	if session.UserID == thread.CompletedBy {
		return nil, domainError(http.StatusForbidden, "COMPLETING_USER_CANNOT_VOTE", "you cannot vote on your own proof", nil)
	}
	card, cell, err := s.threadCard(ctx, thread)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, card.TeamID, session.UserID); err != nil {
		return nil, err
	}

	if err := s.store.UpsertReviewVote(ctx, threadID, session.UserID, vote); err != nil {
		return nil, err
	}

	members, err := s.store.CountTeamMembers(ctx, card.TeamID)
	if err != nil {
		return nil, err
	}
	eligible := members - 1
	votes, err := s.store.ListReviewVotes(ctx, threadID)
	if err != nil {
		return nil, err
	}
	total := len(votes)
	accepts := 0
	for _, v := range votes {
		if v.Vote == "accept" {
			accepts++
		}
	}

	if total >= eligible {
		accepted := eligible <= 0 || float64(accepts)/float64(total) >= 0.5
		outcome, newState := "accepted", bingo.StateAccomplished
		if !accepted {
			outcome, newState = "rejected", bingo.StatePending
		}
		closed, removed, err := s.store.ResolveReviewThread(ctx, threadID, cell.ID, outcome, newState)
		if err != nil {
			return nil, err
		}
		if closed {
			s.removeProofFiles(ctx, removed)
			s.refreshLeaderboard(ctx, card.TeamID, card.MemberID)
			if s.notify != nil {
				s.notify.NotifyTeamRoom(card.TeamID)
			}
		}
	}

	stored, err := s.store.GetReviewThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return s.threadView(ctx, stored)
}

// UndoCompletion force-resets the caller's cell to pending from any done
// state, closing an open review thread and discarding its content.
func (s *Service) UndoCompletion(ctx context.Context, session Session, cardID string, position int) (map[string]any, error) {
	card, cell, err := s.cardCell(ctx, cardID, position)
	if err != nil {
		return nil, err
	}
	if card.MemberID != session.UserID {
		return nil, domainError(http.StatusForbidden, "NOT_OWNER", "only the card owner can undo this cell", nil)
	}
	if cell.SourceType == "empty" {
		return nil, domainError(http.StatusUnprocessableEntity, "CELL_EMPTY_OR_JOKER", "empty cells cannot be undone", nil)
	}

	reset, removed, err := s.store.UndoCellCompletion(ctx, cell.ID)
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, invalidTransition("the cell is already pending", map[string]any{"state": bingo.StatePending})
	}

	s.removeProofFiles(ctx, removed)
	s.refreshLeaderboard(ctx, card.TeamID, card.MemberID)
	if s.notify != nil {
		s.notify.NotifyTeamRoom(card.TeamID)
	}
	return s.cardView(ctx, card)
}

// removeProofFiles deletes blobs once their rows are gone. Failures only
// log; the database commit already happened and a stray blob is harmless.
func (s *Service) removeProofFiles(ctx context.Context, paths []string) {
	if s.files == nil {
		return
	}
	for _, path := range paths {
		if err := s.files.DeleteFile(ctx, path); err != nil {
			log.Printf("delete proof file %s: %v", path, err)
		}
	}
}

// refreshLeaderboard recomputes the member's derived entry from cell state.
// Errors only log: the entry is a materialized view and the next mutation
// rebuilds it.
func (s *Service) refreshLeaderboard(ctx context.Context, teamID, memberID string) {
	card, err := s.store.GetCardByMember(ctx, teamID, memberID)
	if err != nil {
		log.Printf("refresh leaderboard: load card: %v", err)
		return
	}
	cells, err := s.store.ListCells(ctx, card.ID)
	if err != nil {
		log.Printf("refresh leaderboard: load cells: %v", err)
		return
	}
	board := toBingoCells(cells)
	entry := store.LeaderboardEntry{
		TeamID:         teamID,
		MemberID:       memberID,
		CompletedTasks: bingo.CompletedCount(board),
	}
	if at, ok := bingo.FirstBingoAt(board); ok {
		entry.FirstBingoAt = &at
	}
	if err := s.store.UpsertLeaderboardEntry(ctx, entry); err != nil {
		log.Printf("refresh leaderboard: upsert: %v", err)
	}
}

// AuthorizeRoom checks that the session may join a realtime room before the
// websocket upgrade happens.
func (s *Service) AuthorizeRoom(ctx context.Context, session Session, room string) error {
	if teamID, ok := strings.CutPrefix(room, "team:"); ok {
		return s.requireMember(ctx, teamID, session.UserID)
	}
	if threadID, ok := strings.CutPrefix(room, "thread:"); ok {
		thread, err := s.store.GetReviewThread(ctx, threadID)
		if err != nil {
			return err
		}
		card, _, err := s.threadCard(ctx, thread)
		if err != nil {
			return err
		}
		return s.requireMember(ctx, card.TeamID, session.UserID)
	}
	return validationError("unknown room", map[string]any{"room": room})
}

func (s *Service) threadCard(ctx context.Context, thread store.ReviewThread) (store.Card, store.Cell, error) {
	cell, err := s.store.GetCell(ctx, thread.CellID)
	if err != nil {
		return store.Card{}, store.Cell{}, err
	}
	card, err := s.store.GetCard(ctx, cell.CardID)
	if err != nil {
		return store.Card{}, store.Cell{}, err
	}
	return card, cell, nil
}

func toBingoCells(cells []store.Cell) []bingo.Cell {
	out := make([]bingo.Cell, 0, len(cells))
	for _, cell := range cells {
		out = append(out, bingo.Cell{
			Position:  cell.Position,
			Empty:     cell.SourceType == "empty",
			State:     cell.State,
			UpdatedAt: cell.UpdatedAt,
		})
	}
	return out
}

// cardView returns the full 25-cell board with the joker synthesized at the
// center.
func (s *Service) cardView(ctx context.Context, card store.Card) (map[string]any, error) {
	cells, err := s.store.ListCells(ctx, card.ID)
	if err != nil {
		return nil, err
	}
	byPosition := make(map[int]store.Cell, len(cells))
	for _, cell := range cells {
		byPosition[cell.Position] = cell
	}

	cellList := make([]map[string]any, 0, bingo.CellCount)
	for position := 0; position < bingo.CellCount; position++ {
		if position == bingo.JokerPosition {
			cellList = append(cellList, map[string]any{
				"position":   position,
				"text":       "Joker",
				"state":      bingo.StateAccomplished,
				"sourceType": "joker",
				"isJoker":    true,
				"isEmpty":    false,
			})
			continue
		}
		cell, ok := byPosition[position]
		if !ok {
			cellList = append(cellList, map[string]any{
				"position":   position,
				"text":       "",
				"state":      bingo.StatePending,
				"sourceType": "empty",
				"isJoker":    false,
				"isEmpty":    true,
			})
			continue
		}
		cellList = append(cellList, map[string]any{
			"id":           cell.ID,
			"position":     cell.Position,
			"text":         cell.ResolvedText,
			"state":        cell.State,
			"sourceType":   cell.SourceType,
			"sourceUserId": cell.SourceUserID,
			"isJoker":      false,
			"isEmpty":      cell.SourceType == "empty",
			"updatedAt":    cell.UpdatedAt,
		})
	}

	return map[string]any{
		"card": map[string]any{
			"id":        card.ID,
			"teamId":    card.TeamID,
			"memberId":  card.MemberID,
			"gridSize":  card.GridSize,
			"createdAt": card.CreatedAt,
		},
		"cells":    cellList,
		"hasBingo": bingo.HasBingo(toBingoCells(cells), bingo.DoneForReview),
	}, nil
}

func (s *Service) threadView(ctx context.Context, thread store.ReviewThread) (map[string]any, error) {
	card, _, err := s.threadCard(ctx, thread)
	if err != nil {
		return nil, err
	}
	names, err := s.memberNames(ctx, card.TeamID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListReviewMessages(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListReviewFiles(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListReviewVotes(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.CountTeamMembers(ctx, card.TeamID)
	if err != nil {
		return nil, err
	}
	eligible := members - 1
	if eligible < 0 {
		eligible = 0
	}

	messageList := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		messageList = append(messageList, map[string]any{
			"id":             message.ID,
			"authorId":       message.AuthorID,
			"authorUsername": names[message.AuthorID],
			"body":           message.Body,
			"createdAt":      message.CreatedAt,
		})
	}
	fileList := make([]map[string]any, 0, len(files))
	for _, file := range files {
		fileList = append(fileList, map[string]any{
			"id":               file.ID,
			"uploaderId":       file.UploaderID,
			"uploaderUsername": names[file.UploaderID],
			"path":             file.Path,
			"sizeBytes":        file.SizeBytes,
			"mimeType":         file.MimeType,
			"createdAt":        file.CreatedAt,
		})
	}
	voteList := make([]map[string]any, 0, len(votes))
	for _, vote := range votes {
		voteList = append(voteList, map[string]any{
			"voterId":       vote.VoterID,
			"voterUsername": names[vote.VoterID],
			"vote":          vote.Vote,
			"updatedAt":     vote.UpdatedAt,
		})
	}

	return map[string]any{
		"thread": map[string]any{
			"id":          thread.ID,
			"cellId":      thread.CellID,
			"cardId":      card.ID,
			"teamId":      card.TeamID,
			"completedBy": thread.CompletedBy,
			"openedBy":    thread.OpenedBy,
			"status":      thread.Status,
			"outcome":     nilIfEmpty(thread.Outcome),
			"createdAt":   thread.CreatedAt,
			"closedAt":    thread.ClosedAt,
		},
		"messages":       messageList,
		"files":          fileList,
		"votes":          voteList,
		"eligibleVoters": eligible,
		"votesCast":      len(votes),
	}, nil
}
