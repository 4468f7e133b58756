package ankiconnect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

const styling = `.card { font-family: sans-serif; font-size: 20px; text-align: left; }
.extra { margin-top: 1em; font-size: 0.85em; color: #555; }
mark { background: #ffe066; }
pre { text-align: left; }`

type cardTemplate struct {
	Name  string `json:"Name"`
	Front string `json:"Front"`
	Back  string `json:"Back"`
}

// optionalBlocks renders the shared optional fields on the answer side.
func optionalBlocks() string {
	var b strings.Builder
	for _, name := range []string{"Extra", "More", "Source", "AI Notes"} {
		fmt.Fprintf(&b, "\n{{#%s}}<div class=\"extra\">{{%s}}</div>{{/%s}}", name, name, name)
	}
	return b.String()
}

func cardTemplates(t models.NoteType) []cardTemplate {
	answer := "{{FrontSide}}<hr id=answer>"
	switch t {
	case models.NoteTypeQA:
		return []cardTemplate{{Name: "Card 1", Front: "{{Question}}", Back: answer + "{{Answer}}" + optionalBlocks()}}
	case models.NoteTypeReversed:
		return []cardTemplate{
			{Name: "Forward", Front: "{{Front}}", Back: answer + "{{Back}}" + optionalBlocks()},
			{Name: "Reverse", Front: "{{Back}}", Back: answer + "{{Front}}" + optionalBlocks()},
		}
	case models.NoteTypeCloze:
		return []cardTemplate{{Name: "Cloze", Front: "{{cloze:Text}}", Back: "{{cloze:Text}}" + optionalBlocks()}}
	case models.NoteTypeInput:
		return []cardTemplate{{
			Name:  "Card 1",
			Front: "{{Question}}\n{{type:Input}}",
			Back:  "{{Question}}<hr id=answer>{{type:Input}}" + optionalBlocks(),
		}}
	case models.NoteTypeChoice:
		var choices strings.Builder
		choices.WriteString("<ol class=\"choices\">")
		for i := 1; i <= models.MaxChoices; i++ {
			fmt.Fprintf(&choices, "{{#Choice %d}}<li>{{Choice %d}}</li>{{/Choice %d}}", i, i, i)
		}
		choices.WriteString("</ol>")
		return []cardTemplate{{
			Name:  "Card 1",
			Front: "{{Question}}" + choices.String(),
			Back:  answer + "<div class=\"answer\">{{Answer}}</div>" + optionalBlocks(),
		}}
	default:
		panic(fmt.Sprintf("ankiconnect: no card templates for %s", t))
	}
}

// EnsureNoteTypes creates every managed note type missing from the store and
// returns the model names it created.
func (c *Client) EnsureNoteTypes(ctx context.Context) ([]string, error) {
	var existing []string
	if err := c.invoke(ctx, "modelNames", nil, &existing); err != nil {
		return nil, apperr.StoreError("modelNames", 0, err)
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}

	var created []string
	for _, t := range models.NoteTypes() {
		tmpl := models.TemplateFor(t)
		if have[tmpl.Model] {
			continue
		}
		fields := make([]string, len(tmpl.Fields))
		for i, f := range tmpl.Fields {
			fields[i] = f.Name
		}
		params := map[string]any{
			"modelName":     tmpl.Model,
			"inOrderFields": fields,
			"css":           styling,
			"isCloze":       t == models.NoteTypeCloze,
			"cardTemplates": cardTemplates(t),
		}
		if err := c.invoke(ctx, "createModel", params, nil); err != nil {
			return created, apperr.StoreError("createModel", 0, fmt.Errorf("%s: %w", tmpl.Model, err))
		}
		c.log.Info("created note type", slog.String("model", tmpl.Model))
		created = append(created, tmpl.Model)
	}
	return created, nil
}
