package models

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/deckmark/internal/apperr"
)

// NoteType is the closed set of note variants a deck file can hold.
type NoteType int

const (
	NoteTypeUnknown NoteType = iota
	NoteTypeQA
	NoteTypeReversed
	NoteTypeCloze
	NoteTypeInput
	NoteTypeChoice
)

// MaxChoices is the highest candidate slot of a Choice note.
const MaxChoices = 8

// Field is one slot of a note type: its store-side name and its line prefix.
type Field struct {
	Name     string
	Prefix   string
	Required bool
}

// Template describes a note type: its store model name and ordered fields.
type Template struct {
	Type   NoteType
	Model  string
	Fields []Field
}

// Identifying fields per type; common optional fields are appended below.
var commonFields = []Field{
	{Name: "Extra", Prefix: "E:"},
	{Name: "More", Prefix: "M:"},
	{Name: "Source", Prefix: "S:"},
	{Name: "AI Notes", Prefix: "AI:"},
}

var templates = map[NoteType]Template{
	NoteTypeQA: newTemplate(NoteTypeQA, "DeckmarkQA",
		Field{Name: "Question", Prefix: "Q:", Required: true},
		Field{Name: "Answer", Prefix: "A:", Required: true},
	),
	NoteTypeReversed: newTemplate(NoteTypeReversed, "DeckmarkReversed",
		Field{Name: "Front", Prefix: "F:", Required: true},
		Field{Name: "Back", Prefix: "B:", Required: true},
	),
	NoteTypeCloze: newTemplate(NoteTypeCloze, "DeckmarkCloze",
		Field{Name: "Text", Prefix: "T:", Required: true},
	),
	NoteTypeInput: newTemplate(NoteTypeInput, "DeckmarkInput",
		Field{Name: "Question", Prefix: "Q:", Required: true},
		Field{Name: "Input", Prefix: "I:", Required: true},
	),
	NoteTypeChoice: newTemplate(NoteTypeChoice, "DeckmarkChoice", choiceFields()...),
}

// Inference order: the first type whose required prefixes are all present wins;
// QA is the fallback because its prefixes overlap with Input and Choice.
var inferenceOrder = []NoteType{NoteTypeReversed, NoteTypeCloze, NoteTypeInput, NoteTypeChoice}

var clozeRe = regexp.MustCompile(`\{\{c\d+::`)

func newTemplate(t NoteType, model string, own ...Field) Template {
	fields := make([]Field, 0, len(own)+len(commonFields))
	fields = append(fields, own...)
	fields = append(fields, commonFields...)
	return Template{Type: t, Model: model, Fields: fields}
}

func choiceFields() []Field {
	fields := []Field{{Name: "Question", Prefix: "Q:", Required: true}}
	for i := 1; i <= MaxChoices; i++ {
		fields = append(fields, Field{
			Name:     fmt.Sprintf("Choice %d", i),
			Prefix:   fmt.Sprintf("C%d:", i),
			Required: i == 1,
		})
	}
	return append(fields, Field{Name: "Answer", Prefix: "A:", Required: true})
}

// NoteTypes returns every known note type in a stable order.
func NoteTypes() []NoteType {
	return []NoteType{NoteTypeQA, NoteTypeReversed, NoteTypeCloze, NoteTypeInput, NoteTypeChoice}
}

// TemplateFor returns the template of t. It panics on an unknown type.
func TemplateFor(t NoteType) Template {
	tmpl, ok := templates[t]
	if !ok {
		panic(fmt.Sprintf("models: no template for note type %d", t))
	}
	return tmpl
}

// NoteTypeForModel maps a store model name back to a note type.
func NoteTypeForModel(model string) (NoteType, bool) {
	for _, t := range NoteTypes() {
		if templates[t].Model == model {
			return t, true
		}
	}
	return NoteTypeUnknown, false
}

// ModelNames returns the store model names of every managed type.
func ModelNames() []string {
	out := make([]string, 0, len(templates))
	for _, t := range NoteTypes() {
		out = append(out, templates[t].Model)
	}
	return out
}

// Prefixes returns every field prefix in use by any note type, longest first
// so that "AI:" is tried before "A:".
func Prefixes() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range NoteTypes() {
		for _, f := range templates[t].Fields {
			if !seen[f.Prefix] {
				seen[f.Prefix] = true
				out = append(out, f.Prefix)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func (t NoteType) String() string {
	switch t {
	case NoteTypeQA:
		return "QA"
	case NoteTypeReversed:
		return "Reversed"
	case NoteTypeCloze:
		return "Cloze"
	case NoteTypeInput:
		return "Input"
	case NoteTypeChoice:
		return "Choice"
	default:
		return "Unknown"
	}
}

// Model returns the store model name of t.
func (t NoteType) Model() string {
	return TemplateFor(t).Model
}

// FieldByPrefix returns the field of t that uses prefix.
func (t NoteType) FieldByPrefix(prefix string) (Field, bool) {
	for _, f := range TemplateFor(t).Fields {
		if f.Prefix == prefix {
			return f, true
		}
	}
	return Field{}, false
}

// InferNoteType picks the note type for a set of present field prefixes.
// Every prefix must belong to the chosen type.
func InferNoteType(prefixes []string) (NoteType, error) {
	present := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		present[p] = true
	}

	candidates := append(append([]NoteType{}, inferenceOrder...), NoteTypeQA)
	for _, t := range candidates {
		if !hasRequired(t, present) {
			continue
		}
		for p := range present {
			if _, ok := t.FieldByPrefix(p); !ok {
				return NoteTypeUnknown, fmt.Errorf("%w: field %s is not valid for %s notes", apperr.ErrInvalidNote, p, t)
			}
		}
		return t, nil
	}

	sorted := append([]string(nil), prefixes...)
	sort.Strings(sorted)
	return NoteTypeUnknown, fmt.Errorf("%w: cannot infer note type from fields %s", apperr.ErrInvalidNote, strings.Join(sorted, " "))
}

func hasRequired(t NoteType, present map[string]bool) bool {
	for _, f := range TemplateFor(t).Fields {
		if f.Required && !present[f.Prefix] {
			return false
		}
	}
	return true
}

// Choice is the structured form of a Choice note: candidate texts in slot
// order and the 1-based indices of the correct ones.
type Choice struct {
	Candidates []string
	Correct    []int
}

// ParseChoiceAnswer parses a comma-separated list of 1-based indices and
// checks each against the number of candidates.
func ParseChoiceAnswer(answer string, candidates int) ([]int, error) {
	var out []int
	seen := map[int]bool{}
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: choice answer %q is not a number", apperr.ErrInvalidNote, part)
		}
		if n < 1 || n > candidates {
			return nil, fmt.Errorf("%w: choice answer %d out of range 1..%d", apperr.ErrInvalidNote, n, candidates)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: choice answer is empty", apperr.ErrInvalidNote)
	}
	sort.Ints(out)
	return out, nil
}

// FormatChoiceAnswer renders indices in the canonical "1, 3" form.
func FormatChoiceAnswer(correct []int) string {
	parts := make([]string, len(correct))
	for i, n := range correct {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
