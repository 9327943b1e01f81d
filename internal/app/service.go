package app

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"resolutionbingo/api/internal/auth"
	"resolutionbingo/api/internal/authpw"
	"resolutionbingo/api/internal/bingo"
	"resolutionbingo/api/internal/config"
	"resolutionbingo/api/internal/email"
	"resolutionbingo/api/internal/export"
	"resolutionbingo/api/internal/realtime"
	"resolutionbingo/api/internal/search"
	"resolutionbingo/api/internal/storage"
	"resolutionbingo/api/internal/store"
	"resolutionbingo/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type CreateTeamInput struct {
	Name string `json:"name"`
}

type JoinTeamInput struct {
	InviteCode string `json:"inviteCode"`
}

type TeamGoalInput struct {
	Goal string `json:"goal"`
}

type ProvidedResolutionInput struct {
	ForUserID string `json:"forUserId"`
	Body      string `json:"body"`
}

type PersonalResolutionInput struct {
	Body string `json:"body"`
}

type MessageInput struct {
	Content string `json:"content"`
}

type VoteInput struct {
	Vote string `json:"vote"`
}

var allowedVotes = map[string]struct{}{
	"accept": {},
	"deny":   {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	CreateTeam(context.Context, store.Team) error
	GetTeam(context.Context, string) (store.Team, error)
	GetTeamByInviteCode(context.Context, string) (store.Team, error)
	ListTeamsForUser(context.Context, string) ([]store.Team, error)
	AddTeamMember(context.Context, string, string) error
	ListTeamMembers(context.Context, string) ([]store.TeamMember, error)
	IsTeamMember(context.Context, string, string) (bool, error)
	CountTeamMembers(context.Context, string) (int, error)
	UpdateTeamGoal(context.Context, string, string) (bool, error)
	StartTeam(context.Context, string, []store.NewCard) (bool, error)
	InsertProvidedResolution(context.Context, store.ProvidedResolution) error
	ListProvidedResolutionsFor(context.Context, string, string) ([]store.ProvidedResolution, error)
	InsertPersonalResolution(context.Context, store.PersonalResolution) error
	ListPersonalResolutions(context.Context, string) ([]store.PersonalResolution, error)
	DeletePersonalResolution(context.Context, string, string) (bool, error)
	CreateCardWithCells(context.Context, store.NewCard) (bool, error)
	GetCard(context.Context, string) (store.Card, error)
	GetCardByMember(context.Context, string, string) (store.Card, error)
	ListCells(context.Context, string) ([]store.Cell, error)
	GetCell(context.Context, string) (store.Cell, error)
	GetCellByPosition(context.Context, string, int) (store.Cell, error)
	UpdateCellState(context.Context, string, string, string) (bool, error)
	OpenReviewThread(context.Context, store.ReviewThread) (bool, error)
	GetReviewThread(context.Context, string) (store.ReviewThread, error)
	GetOpenThreadByCell(context.Context, string) (*store.ReviewThread, error)
	InsertReviewMessage(context.Context, store.ReviewMessage) error
	ListReviewMessages(context.Context, string) ([]store.ReviewMessage, error)
	InsertReviewFile(context.Context, store.ReviewFile) error
	ListReviewFiles(context.Context, string) ([]store.ReviewFile, error)
	UpsertReviewVote(context.Context, string, string, string) error
	ListReviewVotes(context.Context, string) ([]store.ReviewVote, error)
	ResolveReviewThread(context.Context, string, string, string, string) (bool, []string, error)
	UndoCellCompletion(context.Context, string) (bool, []string, error)
	UpsertLeaderboardEntry(context.Context, store.LeaderboardEntry) error
	ListLeaderboard(context.Context, string) ([]store.LeaderboardRow, error)
	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Postgres serves by default; Redis
// takes over when configured.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type notifier interface {
	NotifyTeamRoom(teamID string)
	NotifyThreadRoom(threadID string, ev realtime.ThreadEvent)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexCells(cells []search.CellRecord)
	IndexResolutions(resolutions []search.ResolutionRecord)
}

type cardExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type proofFiles interface {
	SaveFile(ctx context.Context, data []byte, mimeType string) (string, error)
	DeleteFile(ctx context.Context, name string) error
	MaxBytes() int64
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendProofRequestEmail(to, userName, challengerName, resolutionText, threadURL string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	passwords *authpw.Service
	mail      mailer
	files     proofFiles
	searcher  searchIndex
	exporter  cardExporter
	notify    notifier

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg config.Config, dataStore *store.PostgresStore, passwords *authpw.Service, mail *email.Service, files *storage.Service, searcher *search.Service, notify *realtime.Notifier) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		passwords: passwords,
		mail:      mail,
		files:     files,
		notify:    notify,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if searcher != nil {
		svc.searcher = searcher
	}
	svc.exporter = export.NewService(&exportStore{store: svc.store})
	return svc
}

// NewWithSessionStore is New with refresh sessions held in Redis instead of
// Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, passwords *authpw.Service, mail *email.Service, files *storage.Service, searcher *search.Service, notify *realtime.Notifier) *Service {
	svc := New(cfg, dataStore, passwords, mail, files, searcher, notify)
	svc.sessions = sessions
	return svc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.passwords
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) MaxUploadBytes() int64 {
	if s.files == nil {
		return 0
	}
	return s.files.MaxBytes()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session backend may only carry the user ID; re-read the row so the
	// new token gets the current username.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// SendVerificationEmail mails the signup verification link in the background.
// A send failure only costs a log line; the dev bypass token covers local
// setups without SMTP.
func (s *Service) SendVerificationEmail(emailAddr, username, token string) {
	if !s.SMTPConfigured() {
		return
	}
	verificationURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	go func() {
		if err := s.mail.SendVerificationEmail(emailAddr, username, verificationURL); err != nil {
			log.Printf("send verification email: %v", err)
		}
	}()
}

func (s *Service) SendPasswordResetEmail(emailAddr, username, token string) {
	if !s.SMTPConfigured() {
		return
	}
	resetURL := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	go func() {
		if err := s.mail.SendPasswordResetEmail(emailAddr, username, resetURL); err != nil {
			log.Printf("send password reset email: %v", err)
		}
	}()
}

func (s *Service) CreateTeam(ctx context.Context, session Session, input CreateTeamInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name is required", nil)
	}

	team := store.Team{
		ID:         util.NewID("team"),
		Name:       name,
		InviteCode: util.InviteCode(),
		CreatedBy:  session.UserID,
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	return s.teamView(ctx, team.ID, session.UserID)
}

func (s *Service) ListMyTeams(ctx context.Context, session Session) (map[string]any, error) {
	teams, err := s.store.ListTeamsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		items = append(items, teamModel(team))
	}
	return map[string]any{"teams": items}, nil
}

func (s *Service) GetTeam(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.requireMember(ctx, teamID, session.UserID); err != nil {
		return nil, err
	}
	return s.teamView(ctx, teamID, session.UserID)
}

func (s *Service) JoinTeam(ctx context.Context, session Session, input JoinTeamInput) (map[string]any, error) {
	code := strings.TrimSpace(input.InviteCode)
	if code == "" {
		return nil, validationError("inviteCode is required", nil)
	}

	team, err := s.store.GetTeamByInviteCode(ctx, strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	if err := s.store.AddTeamMember(ctx, team.ID, session.UserID); err != nil {
		return nil, err
	}

	// Late joiners get a card right away, built from whatever resolutions
	// exist for them at this moment.
	if team.Status == "started" {
		if _, err := s.GenerateCard(ctx, session, team.ID); err != nil {
			return nil, err
		}
	}

	if s.notify != nil {
		s.notify.NotifyTeamRoom(team.ID)
	}
	return s.teamView(ctx, team.ID, session.UserID)
}

func (s *Service) SetTeamGoal(ctx context.Context, session Session, teamID string, input TeamGoalInput) (map[string]any, error) {
	goal := strings.TrimSpace(input.Goal)
	if goal == "" {
		return nil, validationError("goal is required", nil)
	}

	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.CreatedBy != session.UserID {
		return nil, notAuthorized("only the team creator can set the goal")
	}

	changed, err := s.store.UpdateTeamGoal(ctx, teamID, goal)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, preconditionNotMet("the goal is locked once the game starts")
	}

	if s.notify != nil {
		s.notify.NotifyTeamRoom(teamID)
	}
	return s.teamView(ctx, teamID, session.UserID)
}

func (s *Service) AddProvidedResolution(ctx context.Context, session Session, teamID string, input ProvidedResolutionInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, validationError("body is required", nil)
	}
	forUserID := strings.TrimSpace(input.ForUserID)
	if forUserID == "" {
		return nil, validationError("forUserId is required", nil)
	}
	if forUserID == session.UserID {
		return nil, validationError("write resolutions for yourself as personal resolutions", nil)
	}

	if err := s.requireMember(ctx, teamID, session.UserID); err != nil {
		return nil, err
	}
	target, err := s.store.IsTeamMember(ctx, teamID, forUserID)
	if err != nil {
		return nil, err
	}
	if !target {
		return nil, validationError("forUserId is not a member of this team", nil)
	}

	item := store.ProvidedResolution{
		ID:        util.NewID("res"),
		TeamID:    teamID,
		ForUserID: forUserID,
		AuthorID:  session.UserID,
		Body:      body,
	}
	if err := s.store.InsertProvidedResolution(ctx, item); err != nil {
		return nil, err
	}

	if s.searcher != nil {
		if user, err := s.store.GetUserByID(ctx, forUserID); err == nil {
			s.searcher.IndexResolutions([]search.ResolutionRecord{{
				ID:       item.ID,
				TeamID:   teamID,
				MemberID: forUserID,
				Username: user.Username,
				Body:     body,
			}})
		}
	}

	return map[string]any{
		"id":        item.ID,
		"teamId":    item.TeamID,
		"forUserId": item.ForUserID,
		"authorId":  item.AuthorID,
		"body":      item.Body,
	}, nil
}

func (s *Service) ListProvidedResolutions(ctx context.Context, session Session, teamID, forUserID string) (map[string]any, error) {
	if err := s.requireMember(ctx, teamID, session.UserID); err != nil {
		return nil, err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	// The pool written for a member stays hidden from them until the game
	// starts; after that it is on their card anyway.
	if forUserID == session.UserID && team.Status == "setup" {
		return nil, notAuthorized("resolutions written for you are hidden until the game starts")
	}

	items, err := s.store.ListProvidedResolutionsFor(ctx, teamID, forUserID)
	if err != nil {
		return nil, err
	}
	resolutions := make([]map[string]any, 0, len(items))
	for _, item := range items {
		resolutions = append(resolutions, map[string]any{
			"id":        item.ID,
			"forUserId": item.ForUserID,
			"authorId":  item.AuthorID,
			"body":      item.Body,
			"createdAt": item.CreatedAt,
		})
	}
	return map[string]any{"resolutions": resolutions}, nil
}

func (s *Service) AddPersonalResolution(ctx context.Context, session Session, input PersonalResolutionInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, validationError("body is required", nil)
	}

	item := store.PersonalResolution{
		ID:      util.NewID("res"),
		OwnerID: session.UserID,
		Body:    body,
	}
	if err := s.store.InsertPersonalResolution(ctx, item); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":   item.ID,
		"body": item.Body,
	}, nil
}

func (s *Service) ListPersonalResolutions(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.store.ListPersonalResolutions(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	resolutions := make([]map[string]any, 0, len(items))
	for _, item := range items {
		resolutions = append(resolutions, map[string]any{
			"id":        item.ID,
			"body":      item.Body,
			"createdAt": item.CreatedAt,
		})
	}
	return map[string]any{"resolutions": resolutions}, nil
}

func (s *Service) DeletePersonalResolution(ctx context.Context, session Session, resolutionID string) error {
	deleted, err := s.store.DeletePersonalResolution(ctx, resolutionID, session.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "resolution not found", nil)
	}
	return nil
}

func (s *Service) Leaderboard(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.requireMember(ctx, teamID, session.UserID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListLeaderboard(ctx, teamID)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, map[string]any{
			"rank":           i + 1,
			"memberId":       row.MemberID,
			"username":       row.Username,
			"completedTasks": row.CompletedTasks,
			"firstBingoAt":   row.FirstBingoAt,
		})
	}
	return map[string]any{"leaderboard": entries}, nil
}

func (s *Service) Search(ctx context.Context, session Session, teamID, query, filterType string, limit, offset int) (map[string]any, error) {
	if err := s.requireMember(ctx, teamID, session.UserID); err != nil {
		return nil, err
	}
	if s.searcher == nil {
		return map[string]any{"results": []search.Result{}, "total": 0, "query": query}, nil
	}
	response := s.searcher.Search(search.Query{
		Text:       query,
		TeamID:     teamID,
		FilterType: search.ResultType(filterType),
		Limit:      limit,
		Offset:     offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}, nil
}

func (s *Service) ExportCard(ctx context.Context, session Session, cardID string, format export.Format) (*export.Result, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, card.TeamID, session.UserID); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, export.ErrRendererMissing
	}
	return s.exporter.Export(ctx, export.Request{CardID: cardID, Format: format})
}

// requireMember gates team-scoped reads and writes on membership.
func (s *Service) requireMember(ctx context.Context, teamID, userID string) error {
	member, err := s.store.IsTeamMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !member {
		return notAuthorized("you are not a member of this team")
	}
	return nil
}

func (s *Service) teamView(ctx context.Context, teamID, viewerID string) (map[string]any, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}

	memberList := make([]map[string]any, 0, len(members))
	for _, member := range members {
		memberList = append(memberList, map[string]any{
			"userId":   member.UserID,
			"username": member.Username,
			"joinedAt": member.JoinedAt,
		})
	}

	var myCardID any
	if team.Status == "started" {
		if card, err := s.store.GetCardByMember(ctx, teamID, viewerID); err == nil {
			myCardID = card.ID
		}
	}

	return map[string]any{
		"team":     teamModel(team),
		"members":  memberList,
		"myCardId": myCardID,
	}, nil
}

func teamModel(team store.Team) map[string]any {
	return map[string]any{
		"id":         team.ID,
		"name":       team.Name,
		"goal":       nilIfEmpty(team.Goal),
		"status":     team.Status,
		"inviteCode": team.InviteCode,
		"createdBy":  team.CreatedBy,
		"startedAt":  team.StartedAt,
		"createdAt":  team.CreatedAt,
	}
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// memberNames maps user IDs to usernames for thread and card read models.
func (s *Service) memberNames(ctx context.Context, teamID string) (map[string]string, error) {
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(members))
	for _, member := range members {
		names[member.UserID] = member.Username
	}
	return names, nil
}

// exportStore adapts the data store to the export renderer, synthesizing the
// joker so the printed board shows all 25 squares.
type exportStore struct {
	store dataStore
}

func (e *exportStore) GetCardInfo(ctx context.Context, cardID string) (export.CardInfo, error) {
	card, err := e.store.GetCard(ctx, cardID)
	if err != nil {
		return export.CardInfo{}, err
	}
	team, err := e.store.GetTeam(ctx, card.TeamID)
	if err != nil {
		return export.CardInfo{}, err
	}
	user, err := e.store.GetUserByID(ctx, card.MemberID)
	if err != nil {
		return export.CardInfo{}, err
	}
	return export.CardInfo{
		ID:       card.ID,
		TeamID:   card.TeamID,
		TeamName: team.Name,
		TeamGoal: team.Goal,
		Username: user.Username,
	}, nil
}

func (e *exportStore) ListCardCells(ctx context.Context, cardID string) ([]export.CellInfo, error) {
	cells, err := e.store.ListCells(ctx, cardID)
	if err != nil {
		return nil, err
	}
	byPosition := make(map[int]store.Cell, len(cells))
	for _, cell := range cells {
		byPosition[cell.Position] = cell
	}

	infos := make([]export.CellInfo, 0, bingo.CellCount)
	for position := 0; position < bingo.CellCount; position++ {
		if position == bingo.JokerPosition {
			infos = append(infos, export.CellInfo{Position: position, IsJoker: true})
			continue
		}
		cell, ok := byPosition[position]
		if !ok || cell.SourceType == "empty" {
			infos = append(infos, export.CellInfo{Position: position, IsEmpty: true})
			continue
		}
		infos = append(infos, export.CellInfo{
			Position: position,
			Text:     cell.ResolvedText,
			State:    cell.State,
		})
	}
	return infos, nil
}

func (e *exportStore) ListStandings(ctx context.Context, teamID string) ([]export.StandingInfo, error) {
	rows, err := e.store.ListLeaderboard(ctx, teamID)
	if err != nil {
		return nil, err
	}
	standings := make([]export.StandingInfo, 0, len(rows))
	for _, row := range rows {
		standings = append(standings, export.StandingInfo{
			Username:       row.Username,
			CompletedTasks: row.CompletedTasks,
			FirstBingoAt:   row.FirstBingoAt,
		})
	}
	return standings, nil
}
