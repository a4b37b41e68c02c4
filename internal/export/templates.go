package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// SafeHTML marks an already-rendered fragment as safe for templating.
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var noteTemplate = template.Must(template.New("note").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"safeHTML": SafeHTML,
}).Parse(noteTemplateText))

// TemplateData holds data for note template rendering
type TemplateData struct {
	Title       string
	Tags        []string
	ContentHTML template.HTML
	Created     time.Time
	Updated     time.Time
	Words       int
	Lines       int
}

// RenderNoteHTML renders the standalone HTML page for one note.
func RenderNoteHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := noteTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const noteTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1.note-title { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .tag { background: #eef; border-radius: 3px; padding: 0.1rem 0.4rem; margin-right: 0.3rem; font-size: 0.85em; }
    li.checklist { list-style: none; margin-left: -1.2rem; }
    blockquote { border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; color: #555; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
  </style>
</head>
<body>
  <h1 class="note-title">{{if .Title}}{{.Title}}{{else}}Untitled{{end}}</h1>
  <div class="meta">
    {{range .Tags}}<span class="tag">{{.}}</span>{{end}}
    {{formatDate .Updated "Jan 2, 2006 15:04"}} | {{.Words}} words, {{.Lines}} lines
  </div>
  <div>{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
