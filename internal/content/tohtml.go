package content

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/starford/deckmark/internal/apperr"
)

var widthRe = regexp.MustCompile(`(<img [^>]*?)>\{width=(\d+)\}`)

// newMarkdown builds the goldmark pipeline: CommonMark plus tables,
// strikethrough and ==highlight==, rendered by fieldRenderer only.
func newMarkdown() goldmark.Markdown {
	p := parser.NewParser(
		parser.WithBlockParsers(parser.DefaultBlockParsers()...),
		parser.WithInlineParsers(append(parser.DefaultInlineParsers(),
			util.Prioritized(extension.NewStrikethroughParser(), 500),
			util.Prioritized(&highlightParser{}, 500),
		)...),
		parser.WithParagraphTransformers(append(parser.DefaultParagraphTransformers(),
			util.Prioritized(extension.NewTableParagraphTransformer(), 200),
		)...),
		parser.WithASTTransformers(
			util.Prioritized(extension.NewTableASTTransformer(), 0),
		),
	)
	r := renderer.NewRenderer(renderer.WithNodeRenderers(util.Prioritized(&fieldRenderer{}, 100)))
	return goldmark.New(goldmark.WithParser(p), goldmark.WithRenderer(r))
}

// markdownToHTML converts one field body.
func (c *Converter) markdownToHTML(markdown string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", nil
	}
	protected, spans := protectMath(markdown)

	var buf bytes.Buffer
	if err := c.md.Convert([]byte(protected), &buf); err != nil {
		return "", err
	}
	out := widthRe.ReplaceAllString(buf.String(), `$1 style="width: ${2}px;">`)
	return restoreMath(out, spans), nil
}

// fieldRenderer emits compact Anki-style HTML: no <p> wrappers, <br> between
// flow blocks and for line breaks.
type fieldRenderer struct{}

func (r *fieldRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindDocument, r.renderDocument)
	reg.Register(ast.KindParagraph, r.renderFlow)
	reg.Register(ast.KindTextBlock, r.renderFlow)
	reg.Register(ast.KindHeading, r.renderHeading)
	reg.Register(ast.KindBlockquote, r.renderBlockquote)
	reg.Register(ast.KindList, r.renderList)
	reg.Register(ast.KindListItem, r.renderListItem)
	reg.Register(ast.KindFencedCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindHTMLBlock, r.renderHTMLBlock)
	reg.Register(ast.KindThematicBreak, r.renderThematicBreak)

	reg.Register(ast.KindText, r.renderText)
	reg.Register(ast.KindString, r.renderString)
	reg.Register(ast.KindEmphasis, r.renderEmphasis)
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
	reg.Register(ast.KindImage, r.renderImage)
	reg.Register(ast.KindRawHTML, r.renderRawHTML)

	reg.Register(east.KindStrikethrough, r.renderStrikethrough)
	reg.Register(KindHighlight, r.renderHighlight)
	reg.Register(east.KindTable, r.renderTable)
	reg.Register(east.KindTableHeader, r.renderTableHeader)
	reg.Register(east.KindTableRow, r.renderTableRow)
	reg.Register(east.KindTableCell, r.renderTableCell)
}

func isFlow(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindParagraph, ast.KindTextBlock:
		return true
	}
	return false
}

// separate writes the break between n and its previous sibling. Two flow
// blocks always need a line break; a blank line in the source adds one more.
func separate(w util.BufWriter, n ast.Node) {
	prev := n.PreviousSibling()
	if prev == nil {
		return
	}
	flows := isFlow(prev) && isFlow(n)
	if flows {
		_, _ = w.WriteString("<br>")
	}
	// Two paragraphs in a blockquote are always separated by a blank quote
	// line, which the parser does not record on the node.
	if n.HasBlankPreviousLines() || (flows && n.Parent() != nil && n.Parent().Kind() == ast.KindBlockquote) {
		_, _ = w.WriteString("<br>")
	}
}

func (r *fieldRenderer) renderDocument(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderFlow(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		separate(w, n)
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderHeading(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Heading)
	if entering {
		separate(w, n)
		fmt.Fprintf(w, "<h%d>", n.Level)
	} else {
		fmt.Fprintf(w, "</h%d>", n.Level)
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderBlockquote(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		separate(w, n)
		_, _ = w.WriteString("<blockquote>")
	} else {
		_, _ = w.WriteString("</blockquote>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderList(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.List)
	tag := "ul"
	if n.IsOrdered() {
		tag = "ol"
	}
	if !entering {
		fmt.Fprintf(w, "</%s>", tag)
		return ast.WalkContinue, nil
	}
	separate(w, n)
	if n.IsOrdered() && n.Start != 1 {
		fmt.Fprintf(w, `<ol start="%d">`, n.Start)
	} else {
		fmt.Fprintf(w, "<%s>", tag)
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderListItem(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<li>")
	} else {
		_, _ = w.WriteString("</li>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderCodeBlock(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	separate(w, n)
	lang := ""
	if fenced, ok := n.(*ast.FencedCodeBlock); ok {
		lang = string(fenced.Language(source))
	}
	if lang != "" {
		fmt.Fprintf(w, `<pre><code class="language-%s">`, util.EscapeHTML([]byte(lang)))
	} else {
		_, _ = w.WriteString("<pre><code>")
	}
	var code bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}
	_, _ = w.Write(util.EscapeHTML(bytes.TrimRight(code.Bytes(), "\n")))
	_, _ = w.WriteString("</code></pre>")
	return ast.WalkSkipChildren, nil
}

func (r *fieldRenderer) renderHTMLBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.HTMLBlock)
	if !entering {
		return ast.WalkContinue, nil
	}
	separate(w, n)
	var raw bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		raw.Write(seg.Value(source))
	}
	if n.HasClosure() {
		raw.Write(n.ClosureLine.Value(source))
	}
	_, _ = w.Write(bytes.TrimRight(raw.Bytes(), "\n"))
	return ast.WalkSkipChildren, nil
}

func (r *fieldRenderer) renderThematicBreak(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	return ast.WalkStop, &apperr.ContentConversionError{Construct: "horizontal rule"}
}

func (r *fieldRenderer) renderText(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Text)
	value := n.Segment.Value(source)
	if n.IsRaw() {
		html.DefaultWriter.RawWrite(w, value)
	} else {
		html.DefaultWriter.Write(w, bytes.ReplaceAll(value, []byte("-->"), []byte("→")))
	}
	if n.HardLineBreak() || n.SoftLineBreak() {
		_, _ = w.WriteString("<br>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderString(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.String)
	if n.IsCode() || n.IsRaw() {
		_, _ = w.Write(n.Value)
	} else {
		html.DefaultWriter.Write(w, n.Value)
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderEmphasis(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Emphasis)
	tag := "em"
	if n.Level == 2 {
		tag = "strong"
	}
	if entering {
		fmt.Fprintf(w, "<%s>", tag)
	} else {
		fmt.Fprintf(w, "</%s>", tag)
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderCodeSpan(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("<code>")
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			value := t.Segment.Value(source)
			if bytes.HasSuffix(value, []byte("\n")) {
				value = append(value[:len(value)-1:len(value)-1], ' ')
			}
			_, _ = w.Write(util.EscapeHTML(value))
		case *ast.String:
			_, _ = w.Write(util.EscapeHTML(t.Value))
		}
	}
	_, _ = w.WriteString("</code>")
	return ast.WalkSkipChildren, nil
}

func (r *fieldRenderer) renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	if !entering {
		_, _ = w.WriteString("</a>")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<a href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.Destination, true)))
	_, _ = w.WriteString(`"`)
	if len(n.Title) > 0 {
		_, _ = w.WriteString(` title="`)
		html.DefaultWriter.Write(w, n.Title)
		_, _ = w.WriteString(`"`)
	}
	_, _ = w.WriteString(">")
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.AutoLink)
	if !entering {
		return ast.WalkContinue, nil
	}
	url := n.URL(source)
	label := n.Label(source)
	if n.AutoLinkType == ast.AutoLinkEmail && !bytes.HasPrefix(bytes.ToLower(url), []byte("mailto:")) {
		url = append([]byte("mailto:"), url...)
	}
	_, _ = w.WriteString(`<a href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape(url, false)))
	_, _ = w.WriteString(`">`)
	_, _ = w.Write(util.EscapeHTML(label))
	_, _ = w.WriteString("</a>")
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderImage(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Image)
	_, _ = w.WriteString(`<img src="`)
	_, _ = w.Write(util.EscapeHTML([]byte(StoreMediaName(string(n.Destination)))))
	_, _ = w.WriteString(`" alt="`)
	_, _ = w.Write(util.EscapeHTML([]byte(plainText(n, source))))
	_, _ = w.WriteString(`">`)
	return ast.WalkSkipChildren, nil
}

func (r *fieldRenderer) renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	n := node.(*ast.RawHTML)
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		_, _ = w.Write(seg.Value(source))
	}
	return ast.WalkSkipChildren, nil
}

func (r *fieldRenderer) renderStrikethrough(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<s>")
	} else {
		_, _ = w.WriteString("</s>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderHighlight(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<mark>")
	} else {
		_, _ = w.WriteString("</mark>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderTable(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		separate(w, n)
		_, _ = w.WriteString("<table>")
		return ast.WalkContinue, nil
	}
	if n.ChildCount() > 1 {
		_, _ = w.WriteString("</tbody>")
	}
	_, _ = w.WriteString("</table>")
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderTableHeader(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<thead><tr>")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("</tr></thead>")
	if n.NextSibling() != nil {
		_, _ = w.WriteString("<tbody>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderTableRow(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<tr>")
	} else {
		_, _ = w.WriteString("</tr>")
	}
	return ast.WalkContinue, nil
}

func (r *fieldRenderer) renderTableCell(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*east.TableCell)
	tag := "td"
	if _, ok := n.Parent().(*east.TableHeader); ok {
		tag = "th"
	}
	if !entering {
		fmt.Fprintf(w, "</%s>", tag)
		return ast.WalkContinue, nil
	}
	if n.Alignment != east.AlignNone {
		fmt.Fprintf(w, `<%s align="%s">`, tag, n.Alignment.String())
	} else {
		fmt.Fprintf(w, "<%s>", tag)
	}
	return ast.WalkContinue, nil
}

// plainText concatenates the literal text below n.
func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// StoreMediaName maps a local media reference to its name in the store's
// flat media namespace. Remote and data URLs are returned unchanged.
func StoreMediaName(ref string) string {
	if isRemote(ref) {
		return ref
	}
	ref = strings.TrimPrefix(ref, "./")
	ref = strings.TrimPrefix(ref, MediaDir+"/")
	if strings.Contains(ref, "/") {
		ref = path.Base(ref)
	}
	return ref
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "data:") || strings.Contains(lower, "://")
}

const (
	mathOpen  = '\uE000'
	mathClose = '\uE001'
)

// mathSpan is one protected math region in display (block) or inline form.
type mathSpan struct {
	body    string
	display bool
}

// protectMath swaps math regions for private-use placeholders so the
// Markdown parser cannot touch their contents. Code spans and fenced code are
// left alone. Dollar forms are normalised to backslash delimiters.
func protectMath(src string) (string, []mathSpan) {
	var (
		out   strings.Builder
		spans []mathSpan
		fence string
	)
	i := 0
	for i < len(src) {
		lineEnd := len(src)
		if nl := strings.IndexByte(src[i:], '\n'); nl >= 0 {
			lineEnd = i + nl + 1
		}
		if i == 0 || src[i-1] == '\n' {
			trimmed := strings.TrimSpace(src[i:lineEnd])
			if fence != "" {
				if strings.HasPrefix(trimmed, fence) {
					fence = ""
				}
				out.WriteString(src[i:lineEnd])
				i = lineEnd
				continue
			}
			if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
				fence = trimmed[:3]
				out.WriteString(src[i:lineEnd])
				i = lineEnd
				continue
			}
		}

		c := src[i]
		switch {
		case c == '`':
			j := i
			for j < len(src) && src[j] == '`' {
				j++
			}
			ticks := src[i:j]
			end := strings.Index(src[j:], ticks)
			if end < 0 {
				out.WriteString(ticks)
				i = j
				continue
			}
			out.WriteString(src[i : j+end+len(ticks)])
			i = j + end + len(ticks)
		case c == '\\' && i+1 < len(src):
			next := src[i+1]
			if next == '(' || next == '[' {
				closer := `\)`
				if next == '[' {
					closer = `\]`
				}
				if end := strings.Index(src[i+2:], closer); end >= 0 {
					writeMath(&out, &spans, src[i+2:i+2+end], next == '[')
					i += 2 + end + 2
					continue
				}
			}
			out.WriteString(src[i : i+2])
			i += 2
		case c == '$' && strings.HasPrefix(src[i:], "$$"):
			if end := strings.Index(src[i+2:], "$$"); end >= 0 {
				writeMath(&out, &spans, src[i+2:i+2+end], true)
				i += 2 + end + 2
				continue
			}
			out.WriteString("$$")
			i += 2
		case c == '$':
			if end := strings.IndexByte(src[i+1:lineEnd], '$'); end > 0 {
				writeMath(&out, &spans, src[i+1:i+1+end], false)
				i += 1 + end + 1
				continue
			}
			out.WriteByte(c)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), spans
}

func writeMath(out *strings.Builder, spans *[]mathSpan, body string, display bool) {
	out.WriteRune(mathOpen)
	out.WriteString(strconv.Itoa(len(*spans)))
	out.WriteRune(mathClose)
	*spans = append(*spans, mathSpan{body: body, display: display})
}

var placeholderRe = regexp.MustCompile(`\x{E000}(\d+)\x{E001}`)

func restoreMath(s string, spans []mathSpan) string {
	if len(spans) == 0 {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		idx, err := strconv.Atoi(placeholderRe.FindStringSubmatch(m)[1])
		if err != nil || idx >= len(spans) {
			return m
		}
		sp := spans[idx]
		body := string(util.EscapeHTML([]byte(sp.body)))
		if sp.display {
			return `\[` + body + `\]`
		}
		return `\(` + body + `\)`
	})
}
