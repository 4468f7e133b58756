// Package parser reads and writes deck files: an optional deck identity
// comment followed by note blocks separated by a blank-line-bounded "---".
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

// Separator joins blocks in serialized output.
const Separator = "\n\n---\n\n"

var (
	deckIDRe = regexp.MustCompile(`^<!--\s*deck_id:\s*(\d+)\s*-->\s*$`)
	noteIDRe = regexp.MustCompile(`^<!--\s*note_id:\s*(\d+)\s*-->\s*$`)
	fenceRe  = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
	// Any thematic break Markdown would render as a rule or setext underline.
	thematicRe = regexp.MustCompile(`^ {0,3}(?:(?:-[ \t]*){3,}|(?:\*[ \t]*){3,}|(?:_[ \t]*){3,})$`)
)

// Document is the parsed form of one deck file.
type Document struct {
	DeckID int64
	Notes  []*models.Note
}

// DeckIDComment renders the deck identity line.
func DeckIDComment(id int64) string {
	return fmt.Sprintf("<!-- deck_id: %d -->", id)
}

// NoteIDComment renders a note identity line.
func NoteIDComment(id int64) string {
	return fmt.Sprintf("<!-- note_id: %d -->", id)
}

// ParseFile parses data and stamps path onto any ParseError.
func ParseFile(path string, data []byte) (*Document, error) {
	doc, err := Parse(data)
	if err != nil {
		var pe *apperr.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Parse splits data into blocks and parses each one.
func Parse(data []byte) (*Document, error) {
	lines := splitLines(string(data))
	doc := &Document{}

	first := 0
	if len(lines) > 0 {
		if m := deckIDRe.FindStringSubmatch(lines[0]); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return nil, &apperr.ParseError{Line: 1, Msg: "deck_id out of range"}
			}
			doc.DeckID = id
			first = 1
		}
	}

	spans, err := splitBlocks(lines, first)
	if err != nil {
		return nil, err
	}
	for _, s := range spans {
		note, err := parseBlock(lines, s[0], s[1])
		if err != nil {
			return nil, err
		}
		if note != nil {
			doc.Notes = append(doc.Notes, note)
		}
	}
	return doc, nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isBlank(lines []string, i int) bool {
	if i < 0 || i >= len(lines) {
		return true
	}
	return strings.TrimSpace(lines[i]) == ""
}

// splitBlocks returns [start, end) line spans between separators.
func splitBlocks(lines []string, first int) ([][2]int, error) {
	var spans [][2]int
	start := first
	fence := ""
	for i := first; i < len(lines); i++ {
		line := lines[i]
		if fence != "" {
			if strings.HasPrefix(strings.TrimSpace(line), fence) {
				fence = ""
				continue
			}
			if strings.TrimRight(line, " \t") == "---" && isBlank(lines, i-1) && isBlank(lines, i+1) {
				return nil, &apperr.ParseError{Line: i + 1, Msg: "block separator inside a fenced code block"}
			}
			continue
		}
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			fence = m[1][:3]
			continue
		}
		if !thematicRe.MatchString(line) {
			continue
		}
		if strings.TrimRight(line, " \t") == "---" && isBlank(lines, i-1) && isBlank(lines, i+1) {
			spans = append(spans, [2]int{start, i})
			start = i + 1
			continue
		}
		return nil, &apperr.ParseError{Line: i + 1, Msg: fmt.Sprintf("ambiguous %q: separate notes with a blank line, ---, and a blank line", strings.TrimSpace(line))}
	}
	return append(spans, [2]int{start, len(lines)}), nil
}

// matchPrefix reports whether line opens a field.
func matchPrefix(line string) (prefix, rest string, ok bool) {
	for _, p := range models.Prefixes() {
		if line == p {
			return p, "", true
		}
		if strings.HasPrefix(line, p+" ") {
			return p, line[len(p)+1:], true
		}
	}
	return "", "", false
}

func parseBlock(lines []string, start, end int) (*models.Note, error) {
	note := &models.Note{Fields: map[string]string{}, StartLine: -1, IDLine: -1}
	var (
		cur   string
		body  []string
		fence string
	)
	flush := func() {
		if cur != "" {
			note.Fields[cur] = strings.TrimSpace(strings.Join(body, "\n"))
		}
		cur, body = "", nil
	}

	for i := start; i < end; i++ {
		line := lines[i]
		if fence == "" {
			if m := noteIDRe.FindStringSubmatch(line); m != nil {
				if note.IDLine >= 0 {
					return nil, &apperr.ParseError{Line: i + 1, Msg: "block has more than one note_id comment"}
				}
				id, err := strconv.ParseInt(m[1], 10, 64)
				if err != nil {
					return nil, &apperr.ParseError{Line: i + 1, Msg: "note_id out of range"}
				}
				flush()
				note.ID, note.IDLine = id, i
				continue
			}
			if deckIDRe.MatchString(line) {
				return nil, &apperr.ParseError{Line: i + 1, Msg: "deck_id comment must be the first line of the file"}
			}
			if p, rest, ok := matchPrefix(line); ok {
				if _, dup := note.Fields[p]; dup || p == cur {
					return nil, &apperr.ParseError{Line: i + 1, Msg: fmt.Sprintf("duplicate field %s", p)}
				}
				flush()
				cur, body = p, []string{rest}
				if note.StartLine < 0 {
					note.StartLine = i
				}
				continue
			}
			if strings.HasPrefix(line, `\`) {
				if _, _, ok := matchPrefix(line[1:]); ok {
					line = line[1:]
				}
			}
		}

		if m := fenceRe.FindStringSubmatch(line); m != nil && fence == "" {
			fence = m[1][:3]
		} else if fence != "" && strings.HasPrefix(strings.TrimSpace(line), fence) {
			fence = ""
		}

		if cur == "" {
			if strings.TrimSpace(line) != "" {
				return nil, &apperr.ParseError{Line: i + 1, Msg: "content before the first field prefix"}
			}
			continue
		}
		body = append(body, line)
	}
	flush()

	if len(note.Fields) == 0 {
		if note.IDLine >= 0 {
			return nil, &apperr.ParseError{Line: note.IDLine + 1, Msg: "note_id comment without fields"}
		}
		return nil, nil
	}

	prefixes := make([]string, 0, len(note.Fields))
	for p := range note.Fields {
		prefixes = append(prefixes, p)
	}
	t, err := models.InferNoteType(prefixes)
	if err != nil {
		return nil, &apperr.ParseError{Line: note.StartLine + 1, Msg: err.Error()}
	}
	note.Type = t
	return note, nil
}

// Serialize renders doc in canonical form.
func Serialize(doc *Document) []byte {
	var b strings.Builder
	if doc.DeckID != 0 {
		b.WriteString(DeckIDComment(doc.DeckID))
		b.WriteByte('\n')
	}
	for i, n := range doc.Notes {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(FormatNote(n))
	}
	if len(doc.Notes) > 0 {
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// FormatNote renders one block without surrounding separators.
func FormatNote(n *models.Note) string {
	var lines []string
	if n.ID != 0 {
		lines = append(lines, NoteIDComment(n.ID))
	}
	for _, f := range models.TemplateFor(n.Type).Fields {
		body, ok := n.Fields[f.Prefix]
		if !f.Required && (!ok || body == "") {
			continue
		}
		if body == "" {
			lines = append(lines, f.Prefix)
			continue
		}
		lines = append(lines, f.Prefix+" "+escapeBody(body))
	}
	return strings.Join(lines, "\n")
}

// escapeBody guards continuation lines that would otherwise read as a new
// field or a block separator.
func escapeBody(body string) string {
	lines := strings.Split(body, "\n")
	fence := ""
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if fence != "" {
			if strings.HasPrefix(strings.TrimSpace(line), fence) {
				fence = ""
			}
			continue
		}
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			fence = m[1][:3]
			continue
		}
		if _, _, ok := matchPrefix(line); ok || thematicRe.MatchString(line) {
			lines[i] = `\` + line
		}
	}
	return strings.Join(lines, "\n")
}

// Rewrite patches identity comments into data without touching any other
// line. ids maps parsed notes (carrying their source positions) to the
// identity they must carry. A zero deckID leaves the deck line alone.
func Rewrite(data []byte, deckID int64, ids map[*models.Note]int64) []byte {
	text := string(data)
	eol := "\n"
	if strings.Contains(text, "\r\n") {
		eol = "\r\n"
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	type edit struct {
		line    int
		replace bool
		text    string
	}
	var edits []edit
	for n, id := range ids {
		switch {
		case n.IDLine >= 0 && n.ID == id:
		case n.IDLine >= 0:
			edits = append(edits, edit{line: n.IDLine, replace: true, text: NoteIDComment(id)})
		case n.StartLine >= 0:
			edits = append(edits, edit{line: n.StartLine, text: NoteIDComment(id)})
		}
	}
	if deckID != 0 {
		if len(lines) > 0 && deckIDRe.MatchString(lines[0]) {
			edits = append(edits, edit{line: 0, replace: true, text: DeckIDComment(deckID)})
		} else {
			edits = append(edits, edit{line: -1, text: DeckIDComment(deckID)})
		}
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].line > edits[j].line })
	for _, e := range edits {
		switch {
		case e.replace:
			lines[e.line] = e.text
		case e.line < 0:
			lines = append([]string{e.text}, lines...)
		default:
			lines = append(lines[:e.line], append([]string{e.text}, lines[e.line:]...)...)
		}
	}
	return []byte(strings.Join(lines, eol))
}
