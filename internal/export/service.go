package export

import (
	"context"
	"fmt"
	"html/template"

	"taskmark/api/internal/note"
)

// Service renders notes into downloadable artifacts.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export renders one note in the requested format.
func (s *Service) Export(ctx context.Context, n note.Note, format Format) (*Result, error) {
	stats := n.ComputeStats()
	page, err := RenderNoteHTML(TemplateData{
		Title:       n.Title,
		Tags:        n.Tags,
		ContentHTML: template.HTML(BlocksToHTML(n.Blocks)),
		Created:     n.Created,
		Updated:     n.Updated,
		Words:       stats.Words,
		Lines:       stats.Lines,
	})
	if err != nil {
		return nil, fmt.Errorf("render note html: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(n.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(page, n.Title)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}
