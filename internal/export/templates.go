package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var cardTemplate *template.Template

func init() {
	// Custom template functions
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"inc":   func(i int) int { return i + 1 },
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/card.html")
	if err != nil {
		// Fallback to built-in template if file not found
		cardTemplate = template.Must(template.New("card").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	cardTemplate = template.Must(template.New("card").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for card template rendering
type TemplateData struct {
	TeamName    string
	TeamGoal    string
	Username    string
	GeneratedAt time.Time
	Rows        [][]TemplateCell
	Standings   []TemplateStanding
}

// TemplateCell holds one board cell for the template
type TemplateCell struct {
	Text    string
	State   string
	IsJoker bool
	IsEmpty bool
}

// TemplateStanding holds one leaderboard row for the template
type TemplateStanding struct {
	Username       string
	CompletedTasks int
	FirstBingoAt   string
}

// RenderCardHTML renders the card template with provided data
func RenderCardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Username}}</title>
  <style>
    body { font-family: Arial, sans-serif; max-width: 800px; margin: 2rem auto; }
    table { border-collapse: collapse; width: 100%; table-layout: fixed; }
    td { border: 1px solid #333; height: 90px; text-align: center; padding: 4px; font-size: 0.8em; }
    td.joker { background: #fff9c4; font-weight: bold; }
    td.accomplished { background: #c8e6c9; }
    td.completed { background: #e8f5e9; }
    td.pending_review { background: #ffe0b2; }
  </style>
</head>
<body>
  <h1>{{.TeamName}}</h1>
  <p>{{.Username}}{{if .TeamGoal}} | {{.TeamGoal}}{{end}}</p>
  <table>
    {{range .Rows}}<tr>
      {{range .}}<td class="{{if .IsJoker}}joker{{else}}{{.State}}{{end}}">{{if .IsJoker}}JOKER{{else}}{{.Text}}{{end}}</td>{{end}}
    </tr>{{end}}
  </table>
  {{if .Standings}}
  <h2>Standings</h2>
  <ol>{{range .Standings}}<li>{{.Username}} ({{.CompletedTasks}}){{if .FirstBingoAt}} bingo {{.FirstBingoAt}}{{end}}</li>{{end}}</ol>
  {{end}}
</body>
</html>`
