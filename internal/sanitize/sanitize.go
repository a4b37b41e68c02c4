// Package sanitize projects editor-produced document trees onto the plain
// note block model. Editor trees can carry host internals (parent pointers,
// schema handles, DOM references) and may be cyclic; the projection copies
// recognized fields only and elides everything else, so the result always
// survives JSON serialization.
package sanitize

import (
	"reflect"

	"taskmark/api/internal/note"
)

// maxDepth bounds recursion independently of cycle detection, so even a
// pathological acyclic tree cannot blow the stack.
const maxDepth = 100

// Document converts an arbitrary document-tree value into plain blocks.
// Accepted input is the JSON shape of an editor document: []any of
// map[string]any nodes. The second return is the number of values dropped
// (cycles, denied keys, unrecognized shapes); callers may log it but must
// not treat it as failure. Document never panics and never returns an error.
func Document(v any) ([]note.Block, int) {
	w := &walker{visited: make(map[uintptr]struct{})}
	blocks := w.blockList(v, 0)
	return blocks, w.dropped
}

// Blocks re-sanitizes an already-typed block tree. Typed blocks cannot carry
// host references, but they can still arrive cyclic or over-deep from a
// misbehaving caller, so they run through the same bounded walk.
func Blocks(blocks []note.Block) ([]note.Block, int) {
	w := &walker{visited: make(map[uintptr]struct{})}
	out := w.typedBlockList(blocks, 0)
	return out, w.dropped
}

type walker struct {
	visited map[uintptr]struct{}
	dropped int
}

// enter marks a map or slice as visited. Revisiting an already-entered value
// means a cycle: the subtree is elided.
func (w *walker) enter(v any) (leave func(), cyclic bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
		if rv.IsNil() {
			return func() {}, false
		}
		p := rv.Pointer()
		if _, ok := w.visited[p]; ok {
			return nil, true
		}
		w.visited[p] = struct{}{}
		return func() { delete(w.visited, p) }, false
	}
	return func() {}, false
}

func (w *walker) blockList(v any, depth int) []note.Block {
	if v == nil || depth > maxDepth {
		return nil
	}
	leave, cyclic := w.enter(v)
	if cyclic {
		w.dropped++
		return nil
	}
	defer leave()

	items, ok := v.([]any)
	if !ok {
		w.dropped++
		return nil
	}
	blocks := make([]note.Block, 0, len(items))
	for _, item := range items {
		if b, ok := w.block(item, depth+1); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func (w *walker) block(v any, depth int) (note.Block, bool) {
	if v == nil || depth > maxDepth {
		return note.Block{}, false
	}
	leave, cyclic := w.enter(v)
	if cyclic {
		w.dropped++
		return note.Block{}, false
	}
	defer leave()

	m, ok := v.(map[string]any)
	if !ok {
		w.dropped++
		return note.Block{}, false
	}

	var b note.Block
	var fromContent []note.Block
	for key, val := range m {
		switch key {
		case "id":
			b.ID, _ = val.(string)
		case "type":
			b.Type, _ = val.(string)
		case "props", "properties":
			b.Props = w.propMap(val, depth+1)
		case "content":
			b.Content, fromContent = w.inlineList(val, depth+1)
		case "children":
			b.Children = w.blockList(val, depth+1)
		default:
			// Everything else is categorically untrusted host state
			// (node, schema, parent, editor, dom, nodeType, ...).
			w.dropped++
		}
	}
	// Block nodes nested directly inside content are hoisted into children.
	// Appended after the loop: map iteration may visit content before or
	// after children.
	if len(fromContent) > 0 {
		b.Children = append(b.Children, fromContent...)
	}
	if b.Type == "" {
		b.Type = "paragraph"
	}
	return b, true
}

// inlineList walks a content list, which may mix inline spans with nested
// block nodes. Spans and blocks are told apart by shape: only blocks carry
// content or children.
func (w *walker) inlineList(v any, depth int) ([]note.InlineSpan, []note.Block) {
	if v == nil || depth > maxDepth {
		return nil, nil
	}
	leave, cyclic := w.enter(v)
	if cyclic {
		w.dropped++
		return nil, nil
	}
	defer leave()

	items, ok := v.([]any)
	if !ok {
		w.dropped++
		return nil, nil
	}
	spans := make([]note.InlineSpan, 0, len(items))
	var blocks []note.Block
	for _, item := range items {
		if isBlockShaped(item) {
			if b, ok := w.block(item, depth+1); ok {
				blocks = append(blocks, b)
			}
			continue
		}
		if s, ok := w.span(item, depth+1); ok {
			spans = append(spans, s)
		}
	}
	return spans, blocks
}

func isBlockShaped(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if _, has := m["content"]; has {
		return true
	}
	_, has := m["children"]
	return has
}

func (w *walker) span(v any, depth int) (note.InlineSpan, bool) {
	if v == nil || depth > maxDepth {
		return note.InlineSpan{}, false
	}
	leave, cyclic := w.enter(v)
	if cyclic {
		w.dropped++
		return note.InlineSpan{}, false
	}
	defer leave()

	m, ok := v.(map[string]any)
	if !ok {
		// Bare strings appear in some editor payloads; keep the text.
		if s, ok := v.(string); ok {
			return note.InlineSpan{Type: "text", Text: s}, true
		}
		w.dropped++
		return note.InlineSpan{}, false
	}

	var s note.InlineSpan
	for key, val := range m {
		switch key {
		case "type":
			s.Type, _ = val.(string)
		case "text":
			s.Text, _ = val.(string)
		case "styles":
			s.Styles = w.propMap(val, depth+1)
		case "marks":
			s.Marks = w.stringList(val, depth+1)
		case "href":
			s.Href, _ = val.(string)
		default:
			w.dropped++
		}
	}
	return s, true
}

// propMap copies scalar-valued properties. Nested objects inside props are
// host-specific and dropped.
func (w *walker) propMap(v any, depth int) map[string]any {
	if v == nil || depth > maxDepth {
		return nil
	}
	leave, cyclic := w.enter(v)
	if cyclic {
		w.dropped++
		return nil
	}
	defer leave()

	m, ok := v.(map[string]any)
	if !ok {
		w.dropped++
		return nil
	}
	out := make(map[string]any, len(m))
	for key, val := range m {
		switch val.(type) {
		case string, bool, float64, int, int64, nil:
			out[key] = val
		default:
			w.dropped++
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (w *walker) stringList(v any, depth int) []string {
	if v == nil || depth > maxDepth {
		return nil
	}
	leave, cyclic := w.enter(v)
	if cyclic {
		w.dropped++
		return nil
	}
	defer leave()

	items, ok := v.([]any)
	if !ok {
		w.dropped++
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		} else {
			w.dropped++
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (w *walker) typedBlockList(blocks []note.Block, depth int) []note.Block {
	if depth > maxDepth {
		w.dropped++
		return nil
	}
	if blocks == nil {
		return nil
	}
	leave, cyclic := w.enter(blocks)
	if cyclic {
		w.dropped++
		return nil
	}
	defer leave()

	out := make([]note.Block, 0, len(blocks))
	for _, b := range blocks {
		nb := note.Block{
			ID:   b.ID,
			Type: b.Type,
		}
		if nb.Type == "" {
			nb.Type = "paragraph"
		}
		nb.Props = w.propMap(anyMap(b.Props), depth+1)
		if b.Content != nil {
			nb.Content = make([]note.InlineSpan, 0, len(b.Content))
			for _, s := range b.Content {
				nb.Content = append(nb.Content, note.InlineSpan{
					Type:   s.Type,
					Text:   s.Text,
					Styles: w.propMap(anyMap(s.Styles), depth+1),
					Marks:  append([]string(nil), s.Marks...),
					Href:   s.Href,
				})
			}
		}
		nb.Children = w.typedBlockList(b.Children, depth+1)
		out = append(out, nb)
	}
	return out
}

func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
