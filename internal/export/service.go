package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetCardInfo(ctx context.Context, cardID string) (CardInfo, error)
	ListCardCells(ctx context.Context, cardID string) ([]CellInfo, error)
	ListStandings(ctx context.Context, teamID string) ([]StandingInfo, error)
}

// Service provides card export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a card printout in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	card, err := s.store.GetCardInfo(ctx, req.CardID)
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}

	cells, err := s.store.ListCardCells(ctx, req.CardID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}

	standings, err := s.store.ListStandings(ctx, card.TeamID)
	if err != nil {
		return nil, fmt.Errorf("list standings: %w", err)
	}

	data := TemplateData{
		TeamName:    card.TeamName,
		TeamGoal:    card.TeamGoal,
		Username:    card.Username,
		GeneratedAt: time.Now(),
		Rows:        buildRows(cells),
	}
	for _, st := range standings {
		row := TemplateStanding{
			Username:       st.Username,
			CompletedTasks: st.CompletedTasks,
		}
		if st.FirstBingoAt != nil {
			row.FirstBingoAt = st.FirstBingoAt.Format("Jan 2, 2006 15:04")
		}
		data.Standings = append(data.Standings, row)
	}

	html, err := RenderCardHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	filename := sanitizeFilename(card.Username + " bingo card")
	switch req.Format {
	case FormatPDF:
		return exportPDF(html, filename)
	case FormatPNG:
		return exportPNG(html, filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// buildRows arranges cells into the printed 5x5 grid by position.
// Positions without a cell render blank.
func buildRows(cells []CellInfo) [][]TemplateCell {
	byPos := make(map[int]CellInfo, len(cells))
	for _, c := range cells {
		byPos[c.Position] = c
	}

	rows := make([][]TemplateCell, 5)
	for r := 0; r < 5; r++ {
		rows[r] = make([]TemplateCell, 5)
		for col := 0; col < 5; col++ {
			c, ok := byPos[r*5+col]
			if !ok {
				rows[r][col] = TemplateCell{IsEmpty: true}
				continue
			}
			rows[r][col] = TemplateCell{
				Text:    c.Text,
				State:   c.State,
				IsJoker: c.IsJoker,
				IsEmpty: c.IsEmpty,
			}
		}
	}
	return rows
}
