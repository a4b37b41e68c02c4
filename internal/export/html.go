package export

import (
	"fmt"
	"html"
	"strings"

	"taskmark/api/internal/note"
)

// BlocksToHTML converts a note's block tree to an HTML fragment.
func BlocksToHTML(blocks []note.Block) string {
	var result strings.Builder
	i := 0
	for i < len(blocks) {
		b := blocks[i]
		// Consecutive list items of the same kind share one list element.
		if wrapper := listWrapper(b.Type); wrapper != "" {
			j := i
			for j < len(blocks) && listWrapper(blocks[j].Type) == wrapper {
				j++
			}
			result.WriteString("<" + wrapper + ">\n")
			for _, item := range blocks[i:j] {
				result.WriteString(renderBlock(item))
			}
			result.WriteString("</" + wrapper + ">\n")
			i = j
			continue
		}
		result.WriteString(renderBlock(b))
		i++
	}
	return result.String()
}

func listWrapper(blockType string) string {
	switch blockType {
	case "bulletListItem", "checkListItem":
		return "ul"
	case "numberedListItem":
		return "ol"
	}
	return ""
}

// renderBlock renders one block, including its nested children.
func renderBlock(b note.Block) string {
	inline := renderSpans(b.Content)
	children := ""
	if len(b.Children) > 0 {
		children = BlocksToHTML(b.Children)
	}

	switch b.Type {
	case "heading":
		level := 1
		if lvl, ok := b.Props["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n%s", level, inline, level, children)
	case "bulletListItem", "numberedListItem":
		return fmt.Sprintf("<li>%s%s</li>\n", inline, children)
	case "checkListItem":
		box := "☐"
		if checked, ok := b.Props["checked"].(bool); ok && checked {
			box = "☑"
		}
		return fmt.Sprintf(`<li class="checklist">%s %s%s</li>`+"\n", box, inline, children)
	case "quote":
		return fmt.Sprintf("<blockquote>%s</blockquote>\n%s", inline, children)
	case "codeBlock":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n%s", inline, children)
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n%s", inline, children)
	default:
		// Unknown block type falls back to a paragraph.
		return fmt.Sprintf("<p>%s</p>\n%s", inline, children)
	}
}

func renderSpans(spans []note.InlineSpan) string {
	var result strings.Builder
	for _, span := range spans {
		result.WriteString(renderSpan(span))
	}
	return result.String()
}

// renderSpan escapes the text and applies style wrappers from outside in.
func renderSpan(span note.InlineSpan) string {
	text := html.EscapeString(span.Text)

	marks := span.Marks
	if len(marks) == 0 {
		marks = stylesToMarks(span.Styles)
	}
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i] {
		case "bold":
			text = "<strong>" + text + "</strong>"
		case "italic":
			text = "<em>" + text + "</em>"
		case "underline":
			text = "<u>" + text + "</u>"
		case "strike", "strikethrough":
			text = "<s>" + text + "</s>"
		case "code":
			text = "<code>" + text + "</code>"
		}
	}

	if span.Type == "link" && span.Href != "" {
		text = `<a href="` + html.EscapeString(span.Href) + `">` + text + `</a>`
	}
	return text
}

func stylesToMarks(styles map[string]any) []string {
	if len(styles) == 0 {
		return nil
	}
	marks := make([]string, 0, len(styles))
	for _, key := range []string{"bold", "italic", "underline", "strike", "code"} {
		if enabled, ok := styles[key].(bool); ok && enabled {
			marks = append(marks, key)
		}
	}
	return marks
}
