package app

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"resolutionbingo/api/internal/store"
)

// cellFixture wires a single card owned by u1 on team t1 with one real cell
// at whatever position the test asks for.
func cellFixture(state string) *fakeStore {
	return &fakeStore{
		getCardFn: func(_ context.Context, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, TeamID: "t1", MemberID: "u1", GridSize: 5}, nil
		},
		getCellByPositionFn: func(_ context.Context, cardID string, position int) (store.Cell, error) {
			return store.Cell{ID: "cell-1", CardID: cardID, Position: position, SourceType: "personal", ResolvedText: "Run a marathon", State: state}, nil
		},
	}
}

// threadFixture wires an open review thread on u2's cell, challenged by u1,
// on a four-member team.
func threadFixture() *fakeStore {
	return &fakeStore{
		getReviewThreadFn: func(_ context.Context, threadID string) (store.ReviewThread, error) {
			return store.ReviewThread{ID: threadID, CellID: "cell-1", CompletedBy: "u2", OpenedBy: "u1", Status: "open"}, nil
		},
		getCellFn: func(_ context.Context, cellID string) (store.Cell, error) {
			return store.Cell{ID: cellID, CardID: "card-1", Position: 7, SourceType: "personal", ResolvedText: "Run a marathon", State: "pending_review"}, nil
		},
		getCardFn: func(_ context.Context, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, TeamID: "t1", MemberID: "u2", GridSize: 5}, nil
		},
		listTeamMembersFn: func(_ context.Context, teamID string) ([]store.TeamMember, error) {
			return []store.TeamMember{
				{TeamID: teamID, UserID: "u1", Username: "casey"},
				{TeamID: teamID, UserID: "u2", Username: "morgan"},
				{TeamID: teamID, UserID: "u3", Username: "riley"},
				{TeamID: teamID, UserID: "u4", Username: "quinn"},
			}, nil
		},
		countTeamMembersFn: func(_ context.Context, _ string) (int, error) {
			return 4, nil
		},
	}
}

func TestBuildCardDedupesAcrossSources(t *testing.T) {
	var built store.NewCard
	fs := &fakeStore{
		listProvidedResolutionsForFn: func(_ context.Context, _, _ string) ([]store.ProvidedResolution, error) {
			return []store.ProvidedResolution{
				{ID: "res-1", TeamID: "t1", ForUserID: "u1", AuthorID: "u2", Body: "Run a marathon"},
				{ID: "res-2", TeamID: "t1", ForUserID: "u1", AuthorID: "u3", Body: "  run a MARATHON  "},
				{ID: "res-3", TeamID: "t1", ForUserID: "u1", AuthorID: "u2", Body: "Read 12 books"},
			}, nil
		},
		listPersonalResolutionsFn: func(_ context.Context, _ string) ([]store.PersonalResolution, error) {
			return []store.PersonalResolution{
				{ID: "pr-1", OwnerID: "u1", Body: "ship the launch"},
				{ID: "pr-2", OwnerID: "u1", Body: "Meditate daily"},
			}, nil
		},
		createCardWithCellsFn: func(_ context.Context, card store.NewCard) (bool, error) {
			built = card
			return true, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GenerateCard(context.Background(), testSession("u1"), "t1"); err != nil {
		t.Fatalf("GenerateCard() error = %v", err)
	}

	if len(built.Cells) != 24 {
		t.Fatalf("expected 24 persisted cells, got %d", len(built.Cells))
	}
	counts := map[string]int{}
	positions := map[int]bool{}
	for _, cell := range built.Cells {
		counts[cell.SourceType]++
		if cell.Position == 12 {
			t.Fatalf("joker position persisted")
		}
		if positions[cell.Position] {
			t.Fatalf("duplicate position %d", cell.Position)
		}
		positions[cell.Position] = true
		if cell.State != "pending" {
			t.Fatalf("expected pending cell, got %s", cell.State)
		}
	}
	if counts["member_provided"] != 2 {
		t.Fatalf("expected 2 provided cells after de-duplication, got %d", counts["member_provided"])
	}
	if counts["team"] != 1 {
		t.Fatalf("expected the goal exactly once, got %d", counts["team"])
	}
	// "ship the launch" collides with the team goal, leaving one personal
	// resolution.
	if counts["personal"] != 1 {
		t.Fatalf("expected 1 personal cell, got %d", counts["personal"])
	}
	if counts["empty"] != 20 {
		t.Fatalf("expected 20 empty cells, got %d", counts["empty"])
	}
	for _, cell := range built.Cells {
		if strings.EqualFold(strings.TrimSpace(cell.ResolvedText), "run a marathon") {
			if cell.ResolutionID == nil || *cell.ResolutionID != "res-1" {
				t.Fatalf("expected the first marathon resolution to win, got %+v", cell.ResolutionID)
			}
		}
	}
}

func TestBuildCardCapsProvidedResolutions(t *testing.T) {
	provided := make([]store.ProvidedResolution, 0, 30)
	for i := 0; i < 30; i++ {
		provided = append(provided, store.ProvidedResolution{
			ID:        "res-" + strconv.Itoa(i),
			TeamID:    "t1",
			ForUserID: "u1",
			AuthorID:  "u2",
			Body:      "Resolution number " + strconv.Itoa(i),
		})
	}
	var built store.NewCard
	fs := &fakeStore{
		listProvidedResolutionsForFn: func(_ context.Context, _, _ string) ([]store.ProvidedResolution, error) {
			return provided, nil
		},
		createCardWithCellsFn: func(_ context.Context, card store.NewCard) (bool, error) {
			built = card
			return true, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GenerateCard(context.Background(), testSession("u1"), "t1"); err != nil {
		t.Fatalf("GenerateCard() error = %v", err)
	}
	if len(built.Cells) != 24 {
		t.Fatalf("expected 24 cells, got %d", len(built.Cells))
	}
	for _, cell := range built.Cells {
		if cell.SourceType != "member_provided" {
			t.Fatalf("a full provided pool must fill the whole card, found %s", cell.SourceType)
		}
	}
}

func TestBuildCardDrawsPastPersonalDuplicates(t *testing.T) {
	var built store.NewCard
	fs := &fakeStore{
		listPersonalResolutionsFn: func(_ context.Context, _ string) ([]store.PersonalResolution, error) {
			return []store.PersonalResolution{
				{ID: "pr-1", OwnerID: "u1", Body: "Learn to cook"},
				{ID: "pr-2", OwnerID: "u1", Body: "learn TO cook"},
				{ID: "pr-3", OwnerID: "u1", Body: "Read more"},
				{ID: "pr-4", OwnerID: "u1", Body: "read more"},
				{ID: "pr-5", OwnerID: "u1", Body: "Ship the launch"},
				{ID: "pr-6", OwnerID: "u1", Body: "Call home weekly"},
			}, nil
		},
		createCardWithCellsFn: func(_ context.Context, card store.NewCard) (bool, error) {
			built = card
			return true, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GenerateCard(context.Background(), testSession("u1"), "t1"); err != nil {
		t.Fatalf("GenerateCard() error = %v", err)
	}

	// The pool holds six rows but only three survive: two casing duplicates
	// collapse and one collides with the goal. The draw must keep going until
	// the pool is exhausted, not stop at the first batch's losses.
	personal := 0
	for _, cell := range built.Cells {
		if cell.SourceType == "personal" {
			personal++
		}
	}
	if personal != 3 {
		t.Fatalf("expected 3 unique personal cells, got %d", personal)
	}
}

func TestCardViewSynthesizesJoker(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		getCardFn: func(_ context.Context, cardID string) (store.Card, error) {
			return store.Card{ID: cardID, TeamID: "t1", MemberID: "u1", GridSize: 5}, nil
		},
		listCellsFn: func(_ context.Context, cardID string) ([]store.Cell, error) {
			return []store.Cell{
				{ID: "c10", CardID: cardID, Position: 10, SourceType: "personal", ResolvedText: "A", State: "completed", UpdatedAt: base},
				{ID: "c11", CardID: cardID, Position: 11, SourceType: "personal", ResolvedText: "B", State: "completed", UpdatedAt: base},
				{ID: "c13", CardID: cardID, Position: 13, SourceType: "personal", ResolvedText: "C", State: "pending_review", UpdatedAt: base},
				{ID: "c14", CardID: cardID, Position: 14, SourceType: "team", ResolvedText: "D", State: "completed", UpdatedAt: base},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetCard(context.Background(), testSession("u1"), "card-1")
	if err != nil {
		t.Fatalf("GetCard() error = %v", err)
	}

	cells, ok := payload["cells"].([]map[string]any)
	if !ok || len(cells) != 25 {
		t.Fatalf("expected 25 logical cells, got %v", payload["cells"])
	}
	joker := cells[12]
	if joker["isJoker"] != true || joker["state"] != "accomplished" || joker["sourceType"] != "joker" {
		t.Fatalf("expected synthesized joker at position 12, got %v", joker)
	}
	if _, hasID := joker["id"]; hasID {
		t.Fatalf("the joker must not carry a row id")
	}
	if cells[0]["isEmpty"] != true {
		t.Fatalf("missing rows must render as empty cells, got %v", cells[0])
	}
	// Row 10..14 is done through the joker; pending_review counts for the
	// board view.
	if payload["hasBingo"] != true {
		t.Fatalf("expected hasBingo under the review predicate")
	}
}

func TestCompleteCellOnlyOwner(t *testing.T) {
	fs := cellFixture("pending")
	svc := newTestService(fs)

	_, err := svc.CompleteCell(context.Background(), testSession("u2"), "card-1", 3)
	assertDomainCode(t, err, "NOT_OWNER")
}

func TestCompleteCellRejectsJokerBeforeLookup(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CompleteCell(context.Background(), testSession("u1"), "card-1", 12)
	assertDomainCode(t, err, "CELL_EMPTY_OR_JOKER")
}

func TestCompleteCellPositionOutOfRange(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CompleteCell(context.Background(), testSession("u1"), "card-1", 25)
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCompleteCellRejectsEmptyCell(t *testing.T) {
	fs := cellFixture("pending")
	fs.getCellByPositionFn = func(_ context.Context, cardID string, position int) (store.Cell, error) {
		return store.Cell{ID: "cell-1", CardID: cardID, Position: position, SourceType: "empty", State: "pending"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.CompleteCell(context.Background(), testSession("u1"), "card-1", 3)
	assertDomainCode(t, err, "CELL_EMPTY_OR_JOKER")
}

func TestCompleteCellReportsCurrentStateOnConflict(t *testing.T) {
	fs := cellFixture("pending")
	fs.updateCellStateFn = func(_ context.Context, _, _, _ string) (bool, error) {
		return false, nil
	}
	fs.getCellFn = func(_ context.Context, cellID string) (store.Cell, error) {
		return store.Cell{ID: cellID, State: "pending_review"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.CompleteCell(context.Background(), testSession("u1"), "card-1", 3)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["state"] != "pending_review" {
		t.Fatalf("expected the re-read state in details, got %v", domainErr.Details)
	}
}

func TestCompleteCellRefreshesLeaderboard(t *testing.T) {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	var from, to string
	var entry store.LeaderboardEntry
	fs := cellFixture("pending")
	fs.updateCellStateFn = func(_ context.Context, _, fromState, toState string) (bool, error) {
		from, to = fromState, toState
		return true, nil
	}
	fs.getCardByMemberFn = func(_ context.Context, teamID, memberID string) (store.Card, error) {
		return store.Card{ID: "card-1", TeamID: teamID, MemberID: memberID, GridSize: 5}, nil
	}
	fs.listCellsFn = func(_ context.Context, cardID string) ([]store.Cell, error) {
		return []store.Cell{
			{ID: "c10", CardID: cardID, Position: 10, SourceType: "personal", State: "completed", UpdatedAt: base},
			{ID: "c11", CardID: cardID, Position: 11, SourceType: "personal", State: "completed", UpdatedAt: base.Add(time.Hour)},
			{ID: "c13", CardID: cardID, Position: 13, SourceType: "personal", State: "completed", UpdatedAt: base.Add(3 * time.Hour)},
			{ID: "c14", CardID: cardID, Position: 14, SourceType: "team", State: "completed", UpdatedAt: base.Add(2 * time.Hour)},
		}, nil
	}
	fs.upsertLeaderboardEntryFn = func(_ context.Context, got store.LeaderboardEntry) error {
		entry = got
		return nil
	}
	svc := newTestService(fs)
	notify := &fakeNotifier{}
	svc.notify = notify

	if _, err := svc.CompleteCell(context.Background(), testSession("u1"), "card-1", 10); err != nil {
		t.Fatalf("CompleteCell() error = %v", err)
	}

	if from != "pending" || to != "completed" {
		t.Fatalf("expected pending->completed, got %s->%s", from, to)
	}
	if entry.CompletedTasks != 4 {
		t.Fatalf("expected 4 completed tasks, got %d", entry.CompletedTasks)
	}
	// Row 10..14 finishes when its slowest cell does.
	if entry.FirstBingoAt == nil || !entry.FirstBingoAt.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("expected first bingo at the line's latest cell, got %v", entry.FirstBingoAt)
	}
	if len(notify.teamRooms) != 1 || notify.teamRooms[0] != "t1" {
		t.Fatalf("expected one team notification, got %v", notify.teamRooms)
	}
}

func TestUncompleteCellTogglesBack(t *testing.T) {
	var from, to string
	fs := cellFixture("completed")
	fs.updateCellStateFn = func(_ context.Context, _, fromState, toState string) (bool, error) {
		from, to = fromState, toState
		return true, nil
	}
	fs.getCardByMemberFn = func(_ context.Context, teamID, memberID string) (store.Card, error) {
		return store.Card{ID: "card-1", TeamID: teamID, MemberID: memberID, GridSize: 5}, nil
	}
	svc := newTestService(fs)

	if _, err := svc.UncompleteCell(context.Background(), testSession("u1"), "card-1", 3); err != nil {
		t.Fatalf("UncompleteCell() error = %v", err)
	}
	if from != "completed" || to != "pending" {
		t.Fatalf("expected completed->pending, got %s->%s", from, to)
	}
}

func TestRequestProofOwnCellRejected(t *testing.T) {
	fs := cellFixture("completed")
	svc := newTestService(fs)

	_, err := svc.RequestProof(context.Background(), testSession("u1"), "card-1", 3)
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestRequestProofRequiresCompletedCell(t *testing.T) {
	fs := cellFixture("pending")
	svc := newTestService(fs)

	_, err := svc.RequestProof(context.Background(), testSession("u2"), "card-1", 3)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["state"] != "pending" {
		t.Fatalf("expected cell state in details, got %v", domainErr.Details)
	}
}

func TestRequestProofRejectsSecondThread(t *testing.T) {
	fs := cellFixture("completed")
	fs.getOpenThreadByCellFn = func(_ context.Context, cellID string) (*store.ReviewThread, error) {
		return &store.ReviewThread{ID: "thr-existing", CellID: cellID, Status: "open"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.RequestProof(context.Background(), testSession("u2"), "card-1", 3)
	assertDomainCode(t, err, "THREAD_ALREADY_OPEN")
}

func TestRequestProofOpensThread(t *testing.T) {
	var opened store.ReviewThread
	fs := cellFixture("completed")
	fs.openReviewThreadFn = func(_ context.Context, thread store.ReviewThread) (bool, error) {
		opened = thread
		return true, nil
	}
	fs.getReviewThreadFn = func(_ context.Context, threadID string) (store.ReviewThread, error) {
		return store.ReviewThread{ID: threadID, CellID: opened.CellID, CompletedBy: opened.CompletedBy, OpenedBy: opened.OpenedBy, Status: "open"}, nil
	}
	fs.getCellFn = func(_ context.Context, cellID string) (store.Cell, error) {
		return store.Cell{ID: cellID, CardID: "card-1", Position: 3, SourceType: "personal", ResolvedText: "Run a marathon", State: "pending_review"}, nil
	}
	svc := newTestService(fs)
	notify := &fakeNotifier{}
	svc.notify = notify

	payload, err := svc.RequestProof(context.Background(), testSession("u2"), "card-1", 3)
	if err != nil {
		t.Fatalf("RequestProof() error = %v", err)
	}

	if opened.CompletedBy != "u1" || opened.OpenedBy != "u2" {
		t.Fatalf("expected thread against the owner, got %+v", opened)
	}
	thread, ok := payload["thread"].(map[string]any)
	if !ok || thread["status"] != "open" {
		t.Fatalf("expected open thread in payload, got %v", payload)
	}
	if len(notify.teamRooms) == 0 {
		t.Fatalf("expected team notification after opening a review")
	}
}

func TestRequestProofLostRaceReportsExistingThread(t *testing.T) {
	calls := 0
	fs := cellFixture("completed")
	fs.openReviewThreadFn = func(_ context.Context, _ store.ReviewThread) (bool, error) {
		return false, nil
	}
	fs.getOpenThreadByCellFn = func(_ context.Context, cellID string) (*store.ReviewThread, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return &store.ReviewThread{ID: "thr-winner", CellID: cellID, Status: "open"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.RequestProof(context.Background(), testSession("u2"), "card-1", 3)
	assertDomainCode(t, err, "THREAD_ALREADY_OPEN")
}

func TestAddMessageClosedThread(t *testing.T) {
	fs := threadFixture()
	fs.getReviewThreadFn = func(_ context.Context, threadID string) (store.ReviewThread, error) {
		return store.ReviewThread{ID: threadID, CellID: "cell-1", CompletedBy: "u2", Status: "closed", Outcome: "accepted"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.AddMessage(context.Background(), testSession("u1"), "thr-1", MessageInput{Content: "hi"})
	assertDomainCode(t, err, "THREAD_CLOSED")
}

func TestAddMessageRequiresContent(t *testing.T) {
	svc := newTestService(threadFixture())

	_, err := svc.AddMessage(context.Background(), testSession("u1"), "thr-1", MessageInput{Content: "   "})
	assertDomainCode(t, err, "EMPTY_CONTENT")
}

func TestAddMessageNotifiesThreadRoom(t *testing.T) {
	var inserted store.ReviewMessage
	fs := threadFixture()
	fs.insertReviewMessageFn = func(_ context.Context, message store.ReviewMessage) error {
		inserted = message
		return nil
	}
	svc := newTestService(fs)
	notify := &fakeNotifier{}
	svc.notify = notify

	if _, err := svc.AddMessage(context.Background(), testSession("u1"), "thr-1", MessageInput{Content: "  show us the medal  "}); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	if inserted.Body != "show us the medal" || inserted.AuthorID != "u1" {
		t.Fatalf("unexpected message row: %+v", inserted)
	}
	if len(notify.threadEvents) != 1 || notify.threadEvents[0].Content != "show us the medal" {
		t.Fatalf("expected thread event with the message, got %v", notify.threadEvents)
	}
	if notify.threadEvents[0].AuthorUsername != "user-u1" {
		t.Fatalf("expected author username on the event, got %q", notify.threadEvents[0].AuthorUsername)
	}
}

func TestUploadProofOnlyCompletingUser(t *testing.T) {
	svc := newTestService(threadFixture())
	svc.files = &fakeFiles{}

	_, err := svc.UploadProofFile(context.Background(), testSession("u1"), "thr-1", []byte("img"), "image/png")
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestUploadProofRejectsEmptyFile(t *testing.T) {
	svc := newTestService(threadFixture())
	svc.files = &fakeFiles{}

	_, err := svc.UploadProofFile(context.Background(), testSession("u2"), "thr-1", nil, "image/png")
	assertDomainCode(t, err, "EMPTY_CONTENT")
}

func TestUploadProofWithoutStorage(t *testing.T) {
	svc := newTestService(threadFixture())

	_, err := svc.UploadProofFile(context.Background(), testSession("u2"), "thr-1", []byte("img"), "image/png")
	assertDomainCode(t, err, "UPLOADS_UNAVAILABLE")
}

func TestUploadProofDeletesOrphanOnInsertFailure(t *testing.T) {
	fs := threadFixture()
	fs.insertReviewFileFn = func(_ context.Context, _ store.ReviewFile) error {
		return errors.New("insert review file: boom")
	}
	svc := newTestService(fs)
	files := &fakeFiles{}
	svc.files = files

	_, err := svc.UploadProofFile(context.Background(), testSession("u2"), "thr-1", []byte("img"), "image/png")
	if err == nil {
		t.Fatalf("expected insert failure to propagate")
	}
	if len(files.deleted) != 1 || files.deleted[0] != "proof-file.png" {
		t.Fatalf("expected the stored blob to be deleted again, got %v", files.deleted)
	}
}

func TestUploadProofStoresRowAndNotifies(t *testing.T) {
	var inserted store.ReviewFile
	fs := threadFixture()
	fs.insertReviewFileFn = func(_ context.Context, file store.ReviewFile) error {
		inserted = file
		return nil
	}
	svc := newTestService(fs)
	svc.files = &fakeFiles{}
	notify := &fakeNotifier{}
	svc.notify = notify

	if _, err := svc.UploadProofFile(context.Background(), testSession("u2"), "thr-1", []byte("evidence"), "image/png"); err != nil {
		t.Fatalf("UploadProofFile() error = %v", err)
	}

	if inserted.Path != "proof-file.png" || inserted.SizeBytes != int64(len("evidence")) || inserted.MimeType != "image/png" {
		t.Fatalf("unexpected file row: %+v", inserted)
	}
	if inserted.UploaderID != "u2" {
		t.Fatalf("expected uploader u2, got %s", inserted.UploaderID)
	}
	if len(notify.threadEvents) != 1 {
		t.Fatalf("expected thread notification, got %v", notify.threadEvents)
	}
}

func TestSubmitVoteValidatesValue(t *testing.T) {
	svc := newTestService(threadFixture())

	_, err := svc.SubmitVote(context.Background(), testSession("u3"), "thr-1", VoteInput{Vote: "maybe"})
	assertDomainCode(t, err, "INVALID_VOTE")
}

func TestSubmitVoteCompletingUserBlocked(t *testing.T) {
	// Only the thread row is wired; reaching the cell lookup would fail with
	// sql.ErrNoRows, so the code also proves the check runs first.
	fs := &fakeStore{
		getReviewThreadFn: func(_ context.Context, threadID string) (store.ReviewThread, error) {
			return store.ReviewThread{ID: threadID, CellID: "cell-1", CompletedBy: "u2", Status: "open"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitVote(context.Background(), testSession("u2"), "thr-1", VoteInput{Vote: "accept"})
	assertDomainCode(t, err, "COMPLETING_USER_CANNOT_VOTE")
}

func TestSubmitVoteClosedThread(t *testing.T) {
	fs := threadFixture()
	fs.getReviewThreadFn = func(_ context.Context, threadID string) (store.ReviewThread, error) {
		return store.ReviewThread{ID: threadID, CellID: "cell-1", CompletedBy: "u2", Status: "closed", Outcome: "rejected"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.SubmitVote(context.Background(), testSession("u3"), "thr-1", VoteInput{Vote: "accept"})
	assertDomainCode(t, err, "THREAD_CLOSED")
}

func TestSubmitVoteBelowQuorumLeavesThreadOpen(t *testing.T) {
	fs := threadFixture()
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{
			{ThreadID: threadID, VoterID: "u1", Vote: "accept"},
			{ThreadID: threadID, VoterID: "u3", Vote: "deny"},
		}, nil
	}
	resolved := false
	fs.resolveReviewThreadFn = func(_ context.Context, _, _, _, _ string) (bool, []string, error) {
		resolved = true
		return true, nil, nil
	}
	svc := newTestService(fs)

	if _, err := svc.SubmitVote(context.Background(), testSession("u3"), "thr-1", VoteInput{Vote: "deny"}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	// Two of three eligible voters have spoken; the thread stays open.
	if resolved {
		t.Fatalf("thread resolved before quorum")
	}
}

func TestSubmitVoteMajorityAcceptAccomplishes(t *testing.T) {
	var outcome, newState string
	fs := threadFixture()
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{
			{ThreadID: threadID, VoterID: "u1", Vote: "accept"},
			{ThreadID: threadID, VoterID: "u3", Vote: "accept"},
			{ThreadID: threadID, VoterID: "u4", Vote: "deny"},
		}, nil
	}
	fs.resolveReviewThreadFn = func(_ context.Context, _, cellID, gotOutcome, gotState string) (bool, []string, error) {
		if cellID != "cell-1" {
			t.Fatalf("expected resolve against cell-1, got %s", cellID)
		}
		outcome, newState = gotOutcome, gotState
		return true, []string{"stale-proof.png"}, nil
	}
	svc := newTestService(fs)
	files := &fakeFiles{}
	svc.files = files
	notify := &fakeNotifier{}
	svc.notify = notify

	if _, err := svc.SubmitVote(context.Background(), testSession("u4"), "thr-1", VoteInput{Vote: "deny"}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}

	if outcome != "accepted" || newState != "accomplished" {
		t.Fatalf("expected accepted/accomplished, got %s/%s", outcome, newState)
	}
	if len(files.deleted) != 1 || files.deleted[0] != "stale-proof.png" {
		t.Fatalf("expected proof blobs removed after close, got %v", files.deleted)
	}
	if len(notify.teamRooms) != 1 {
		t.Fatalf("expected team notification after close, got %v", notify.teamRooms)
	}
}

func TestSubmitVoteMajorityDenyRejects(t *testing.T) {
	var outcome, newState string
	fs := threadFixture()
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{
			{ThreadID: threadID, VoterID: "u1", Vote: "deny"},
			{ThreadID: threadID, VoterID: "u3", Vote: "deny"},
			{ThreadID: threadID, VoterID: "u4", Vote: "accept"},
		}, nil
	}
	fs.resolveReviewThreadFn = func(_ context.Context, _, _, gotOutcome, gotState string) (bool, []string, error) {
		outcome, newState = gotOutcome, gotState
		return true, nil, nil
	}
	svc := newTestService(fs)

	if _, err := svc.SubmitVote(context.Background(), testSession("u4"), "thr-1", VoteInput{Vote: "accept"}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	if outcome != "rejected" || newState != "pending" {
		t.Fatalf("expected rejected/pending, got %s/%s", outcome, newState)
	}
}

func TestSubmitVoteTieAccepts(t *testing.T) {
	var outcome string
	fs := threadFixture()
	fs.listTeamMembersFn = func(_ context.Context, teamID string) ([]store.TeamMember, error) {
		return []store.TeamMember{
			{TeamID: teamID, UserID: "u1", Username: "casey"},
			{TeamID: teamID, UserID: "u2", Username: "morgan"},
			{TeamID: teamID, UserID: "u3", Username: "riley"},
		}, nil
	}
	fs.countTeamMembersFn = func(_ context.Context, _ string) (int, error) {
		return 3, nil
	}
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{
			{ThreadID: threadID, VoterID: "u1", Vote: "accept"},
			{ThreadID: threadID, VoterID: "u3", Vote: "deny"},
		}, nil
	}
	fs.resolveReviewThreadFn = func(_ context.Context, _, _, gotOutcome, _ string) (bool, []string, error) {
		outcome = gotOutcome
		return true, nil, nil
	}
	svc := newTestService(fs)

	if _, err := svc.SubmitVote(context.Background(), testSession("u3"), "thr-1", VoteInput{Vote: "deny"}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	// One accept out of two votes sits exactly at half, which accepts.
	if outcome != "accepted" {
		t.Fatalf("expected tie to accept, got %s", outcome)
	}
}

func TestSubmitVoteNoEligibleVotersAutoAccepts(t *testing.T) {
	var outcome string
	fs := threadFixture()
	fs.countTeamMembersFn = func(_ context.Context, _ string) (int, error) {
		return 1, nil
	}
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{{ThreadID: threadID, VoterID: "u9", Vote: "deny"}}, nil
	}
	fs.resolveReviewThreadFn = func(_ context.Context, _, _, gotOutcome, _ string) (bool, []string, error) {
		outcome = gotOutcome
		return true, nil, nil
	}
	svc := newTestService(fs)

	if _, err := svc.SubmitVote(context.Background(), testSession("u9"), "thr-1", VoteInput{Vote: "deny"}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	// With nobody left eligible the proof stands; a membership change must
	// not strand the cell in review.
	if outcome != "accepted" {
		t.Fatalf("expected auto-accept with zero eligible voters, got %s", outcome)
	}
}

func TestSubmitVoteCloseLoserSkipsSideEffects(t *testing.T) {
	fs := threadFixture()
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{
			{ThreadID: threadID, VoterID: "u1", Vote: "accept"},
			{ThreadID: threadID, VoterID: "u3", Vote: "accept"},
			{ThreadID: threadID, VoterID: "u4", Vote: "accept"},
		}, nil
	}
	fs.resolveReviewThreadFn = func(_ context.Context, _, _, _, _ string) (bool, []string, error) {
		return false, nil, nil
	}
	svc := newTestService(fs)
	files := &fakeFiles{}
	svc.files = files
	notify := &fakeNotifier{}
	svc.notify = notify

	if _, err := svc.SubmitVote(context.Background(), testSession("u4"), "thr-1", VoteInput{Vote: "accept"}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	if len(files.deleted) != 0 {
		t.Fatalf("close loser must not delete files, got %v", files.deleted)
	}
	if len(notify.teamRooms) != 0 {
		t.Fatalf("close loser must not notify, got %v", notify.teamRooms)
	}
}

func TestSubmitVoteUpsertsCallerVote(t *testing.T) {
	var gotVoter, gotVote string
	fs := threadFixture()
	fs.upsertReviewVoteFn = func(_ context.Context, _, voterID, vote string) error {
		gotVoter, gotVote = voterID, vote
		return nil
	}
	svc := newTestService(fs)

	if _, err := svc.SubmitVote(context.Background(), testSession("u3"), "thr-1", VoteInput{Vote: " ACCEPT "}); err != nil {
		t.Fatalf("SubmitVote() error = %v", err)
	}
	if gotVoter != "u3" || gotVote != "accept" {
		t.Fatalf("expected normalized accept from u3, got %s/%s", gotVoter, gotVote)
	}
}

func TestUndoCompletionOnlyOwner(t *testing.T) {
	fs := cellFixture("accomplished")
	svc := newTestService(fs)

	_, err := svc.UndoCompletion(context.Background(), testSession("u2"), "card-1", 3)
	assertDomainCode(t, err, "NOT_OWNER")
}

func TestUndoCompletionAlreadyPending(t *testing.T) {
	fs := cellFixture("pending")
	fs.undoCellCompletionFn = func(_ context.Context, _ string) (bool, []string, error) {
		return false, nil, nil
	}
	svc := newTestService(fs)

	_, err := svc.UndoCompletion(context.Background(), testSession("u1"), "card-1", 3)
	assertDomainCode(t, err, "INVALID_TRANSITION")
}

func TestUndoCompletionPurgesThreadContent(t *testing.T) {
	fs := cellFixture("pending_review")
	fs.undoCellCompletionFn = func(_ context.Context, cellID string) (bool, []string, error) {
		if cellID != "cell-1" {
			t.Fatalf("expected undo against cell-1, got %s", cellID)
		}
		return true, []string{"proof-a.png", "proof-b.png"}, nil
	}
	fs.getCardByMemberFn = func(_ context.Context, teamID, memberID string) (store.Card, error) {
		return store.Card{ID: "card-1", TeamID: teamID, MemberID: memberID, GridSize: 5}, nil
	}
	svc := newTestService(fs)
	files := &fakeFiles{}
	svc.files = files
	notify := &fakeNotifier{}
	svc.notify = notify

	if _, err := svc.UndoCompletion(context.Background(), testSession("u1"), "card-1", 3); err != nil {
		t.Fatalf("UndoCompletion() error = %v", err)
	}

	if len(files.deleted) != 2 {
		t.Fatalf("expected both proof blobs deleted, got %v", files.deleted)
	}
	if len(notify.teamRooms) != 1 {
		t.Fatalf("expected team notification after undo, got %v", notify.teamRooms)
	}
}

func TestThreadViewCountsEligibleVoters(t *testing.T) {
	fs := threadFixture()
	fs.listReviewVotesFn = func(_ context.Context, threadID string) ([]store.ReviewVote, error) {
		return []store.ReviewVote{{ThreadID: threadID, VoterID: "u1", Vote: "accept"}}, nil
	}
	svc := newTestService(fs)

	payload, err := svc.GetThread(context.Background(), testSession("u3"), "thr-1")
	if err != nil {
		t.Fatalf("GetThread() error = %v", err)
	}
	if payload["eligibleVoters"] != 3 {
		t.Fatalf("expected 3 eligible voters on a 4-member team, got %v", payload["eligibleVoters"])
	}
	if payload["votesCast"] != 1 {
		t.Fatalf("expected 1 vote cast, got %v", payload["votesCast"])
	}
	votes, ok := payload["votes"].([]map[string]any)
	if !ok || len(votes) != 1 || votes[0]["voterUsername"] != "casey" {
		t.Fatalf("expected resolved voter username, got %v", payload["votes"])
	}
}

func TestAuthorizeRoomTeamMembership(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	if err := svc.AuthorizeRoom(context.Background(), testSession("u1"), "team:t1"); err != nil {
		t.Fatalf("AuthorizeRoom() error = %v", err)
	}

	fs.isTeamMemberFn = func(_ context.Context, _, _ string) (bool, error) {
		return false, nil
	}
	err := svc.AuthorizeRoom(context.Background(), testSession("u1"), "team:t1")
	assertDomainCode(t, err, "NOT_AUTHORIZED")
}

func TestAuthorizeRoomThreadResolvesTeam(t *testing.T) {
	fs := threadFixture()
	var checkedTeam string
	fs.isTeamMemberFn = func(_ context.Context, teamID, _ string) (bool, error) {
		checkedTeam = teamID
		return true, nil
	}
	svc := newTestService(fs)

	if err := svc.AuthorizeRoom(context.Background(), testSession("u3"), "thread:thr-1"); err != nil {
		t.Fatalf("AuthorizeRoom() error = %v", err)
	}
	if checkedTeam != "t1" {
		t.Fatalf("expected membership checked against the thread's team, got %q", checkedTeam)
	}
}

func TestAuthorizeRoomUnknownPrefix(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.AuthorizeRoom(context.Background(), testSession("u1"), "lobby")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestAuthorizeRoomUnknownThread(t *testing.T) {
	svc := newTestService(&fakeStore{})

	err := svc.AuthorizeRoom(context.Background(), testSession("u1"), "thread:missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for a missing thread, got %v", err)
	}
}
