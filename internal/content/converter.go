// Package content converts note field bodies between the Markdown subset used
// in deck files and the HTML stored by the flashcard application.
package content

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

// MediaDir is the collection-relative directory local media references use.
const MediaDir = "media"

// Converter converts field bodies in both directions. It is not safe for
// concurrent use.
type Converter struct {
	md goldmark.Markdown
}

// New returns a ready Converter.
func New() *Converter {
	return &Converter{md: newMarkdown()}
}

// ToExternal converts the Markdown body of field prefix on a note of type t
// into store HTML.
func (c *Converter) ToExternal(markdown string, t models.NoteType, prefix string) (string, error) {
	if t == models.NoteTypeChoice && prefix == "A:" {
		if idx, err := models.ParseChoiceAnswer(markdown, models.MaxChoices); err == nil {
			return models.FormatChoiceAnswer(idx), nil
		}
	}
	out, err := c.markdownToHTML(markdown)
	if err != nil {
		return "", withField(err, prefix)
	}
	return out, nil
}

// ToMarkup converts store HTML of field prefix on a note of type t back to
// Markdown.
func (c *Converter) ToMarkup(src string, t models.NoteType, prefix string) (string, error) {
	if t == models.NoteTypeChoice && prefix == "A:" {
		if idx, err := models.ParseChoiceAnswer(src, models.MaxChoices); err == nil {
			return models.FormatChoiceAnswer(idx), nil
		}
	}
	out, err := c.htmlToMarkdown(src)
	if err != nil {
		return "", withField(err, prefix)
	}
	return out, nil
}

func withField(err error, prefix string) error {
	var ce *apperr.ContentConversionError
	if errors.As(err, &ce) && ce.Field == "" {
		ce.Field = prefix
	}
	return err
}

// NoteFields converts every field of n into the store's field map, keyed by
// store field name. Absent fields map to "" so an update clears them.
func (c *Converter) NoteFields(n *models.Note) (map[string]string, error) {
	tmpl := models.TemplateFor(n.Type)
	out := make(map[string]string, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		body, ok := n.Fields[f.Prefix]
		if !ok {
			out[f.Name] = ""
			continue
		}
		v, err := c.ToExternal(body, n.Type, f.Prefix)
		if err != nil {
			var ce *apperr.ContentConversionError
			if errors.As(err, &ce) {
				ce.NoteID = n.ID
			}
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

// NoteFromExternal converts a store note into a block carrying its identity.
func (c *Converter) NoteFromExternal(ext models.ExternalNote) (*models.Note, error) {
	tmpl := models.TemplateFor(ext.Type)
	n := &models.Note{
		ID:        ext.ID,
		Type:      ext.Type,
		Fields:    make(map[string]string, len(tmpl.Fields)),
		StartLine: -1,
		IDLine:    -1,
	}
	for _, f := range tmpl.Fields {
		v, err := c.ToMarkup(ext.Fields[f.Name], ext.Type, f.Prefix)
		if err != nil {
			var ce *apperr.ContentConversionError
			if errors.As(err, &ce) {
				ce.NoteID = ext.ID
			}
			return nil, err
		}
		if v != "" || f.Required {
			n.Fields[f.Prefix] = v
		}
	}
	return n, nil
}

// FieldsEqual reports whether two store field maps carry the same content.
// Missing keys compare as empty.
func FieldsEqual(a, b map[string]string) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

var (
	mdImageAngleRe = regexp.MustCompile(`!\[(?:[^\]\\]|\\.)*\]\(\s*<([^>]+)>`)
	mdImageRe      = regexp.MustCompile(`!\[(?:[^\]\\]|\\.)*\]\(\s*([^)<\s]+)`)
	soundRe        = regexp.MustCompile(`\[sound:([^\]]+)\]`)
	htmlImgRe      = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
	mediaRefRe     = []*regexp.Regexp{mdImageAngleRe, mdImageRe, soundRe, htmlImgRe}
)

// MediaReferences lists the local media files a Markdown body refers to, as
// names in the store's media namespace.
func MediaReferences(markdown string) []string {
	seen := map[string]bool{}
	var out []string
	for _, re := range mediaRefRe {
		for _, m := range re.FindAllStringSubmatch(markdown, -1) {
			ref := strings.TrimSpace(m[1])
			if ref == "" || isRemote(ref) {
				continue
			}
			name := StoreMediaName(ref)
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// RewriteMediaReferences replaces local media names using rename, leaving
// unknown names and remote references alone.
func RewriteMediaReferences(markdown string, rename map[string]string) string {
	if len(rename) == 0 {
		return markdown
	}
	for _, re := range mediaRefRe {
		markdown = re.ReplaceAllStringFunc(markdown, func(m string) string {
			sub := re.FindStringSubmatch(m)
			ref := strings.TrimSpace(sub[1])
			if isRemote(ref) {
				return m
			}
			to, ok := rename[StoreMediaName(ref)]
			if !ok {
				return m
			}
			dir := ""
			if i := strings.LastIndex(ref, "/"); i >= 0 {
				dir = ref[:i+1]
			}
			return strings.Replace(m, ref, dir+to, 1)
		})
	}
	return markdown
}
