package content

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/deckmark/internal/apperr"
)

// Elements no deck file construct can represent.
var unsupportedTags = map[string]string{
	"hr":     "horizontal rule",
	"iframe": "embedded frame",
	"video":  "video element",
	"audio":  "audio element",
	"script": "script",
	"object": "embedded object",
	"embed":  "embedded object",
	"svg":    "inline svg",
	"canvas": "canvas",
	"form":   "form",
	"input":  "form input",
}

var (
	verbatimRe    = regexp.MustCompile(`(?s)\\\(.*?\\\)|\\\[.*?\\\]|\[sound:[^\]]+\]`)
	entityLikeRe  = regexp.MustCompile(`&([A-Za-z][A-Za-z0-9]*|#[0-9]+|#[xX][0-9a-fA-F]+);`)
	whitespaceRe  = regexp.MustCompile(`[ \t\r\n\f]+`)
	widthStyleRe  = regexp.MustCompile(`width:\s*([\d.]+)px`)
	lineHeadingRe = regexp.MustCompile(`(?m)^(#{1,6})([ \t]|$)`)
	lineQuoteRe   = regexp.MustCompile(`(?m)^>`)
	lineBulletRe  = regexp.MustCompile(`(?m)^([-+])([ \t]|$)`)
	lineOrderedRe = regexp.MustCompile(`(?m)^(\d{1,9})([.)])([ \t]|$)`)
	lineRuleRe    = regexp.MustCompile(`(?m)^(-{2,}|={2,})[ \t]*$`)
)

// htmlToMarkdown converts one store field.
func (c *Converter) htmlToMarkdown(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	nodes, err := html.ParseFragment(strings.NewReader(src), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return "", fmt.Errorf("content: parse html: %w", err)
	}
	w := &mdWriter{}
	out := w.flowOf(nodes)
	if w.err != nil {
		return "", w.err
	}
	return strings.TrimSpace(out), nil
}

// mdWriter renders an HTML tree as Markdown, keeping the first error.
type mdWriter struct {
	err error
}

func (w *mdWriter) fail(construct string) {
	if w.err == nil {
		w.err = &apperr.ContentConversionError{Construct: construct}
	}
}

const (
	flowEmpty = iota
	flowInline
	flowBlock
)

// flow lays out a sequence of sibling nodes: inline runs separated by <br>,
// and block elements on lines of their own. A <br> adjacent to a block
// element becomes a blank line.
type flow struct {
	out   strings.Builder
	run   strings.Builder
	state int
	brs   int
	lazy  bool // last block would absorb a following text line
}

func (f *flow) br() {
	if f.state != flowEmpty {
		f.brs++
	}
}

func (f *flow) text(s string) {
	newLine := f.state != flowInline || f.brs > 0 || strings.HasSuffix(f.run.String(), "\n")
	if newLine {
		s = strings.TrimLeft(s, " ")
	}
	if s == "" {
		return
	}
	switch f.state {
	case flowInline:
		if f.brs > 0 {
			f.run.WriteString(strings.Repeat("\n", min(f.brs, 2)))
		}
	case flowBlock:
		f.out.WriteString("\n")
		if f.brs > 0 || f.lazy {
			f.out.WriteString("\n")
		}
	}
	f.brs = 0
	f.run.WriteString(s)
	f.state = flowInline
}

// block places a rendered block element. Lists, quotes and tables continue
// lazily over a following text line, and tables or ordered lists cannot
// interrupt a paragraph, so those get a blank line.
func (f *flow) block(s, tag string) {
	if s == "" {
		return
	}
	f.flushRun()
	if f.state != flowEmpty {
		f.out.WriteString("\n")
		blankBefore := f.state == flowInline && (tag == "table" || tag == "ol")
		if f.brs > 0 || blankBefore {
			f.out.WriteString("\n")
		}
	}
	f.brs = 0
	f.out.WriteString(s)
	f.state = flowBlock
	switch tag {
	case "ul", "ol", "blockquote", "table":
		f.lazy = true
	default:
		f.lazy = false
	}
}

func (f *flow) flushRun() {
	if f.run.Len() == 0 {
		return
	}
	lines := strings.Split(f.run.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	f.out.WriteString(escapeLineStarts(strings.Join(lines, "\n")))
	f.run.Reset()
}

func (f *flow) String() string {
	f.flushRun()
	return f.out.String()
}

func isBlockTag(n *html.Node) bool {
	switch n.Data {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "pre", "blockquote", "table", "li":
		return true
	}
	return false
}

func (w *mdWriter) flowOf(nodes []*html.Node) string {
	f := &flow{}
	for _, n := range nodes {
		switch {
		case n.Type == html.TextNode:
			f.text(escapeText(collapse(n.Data)))
		case n.Type != html.ElementNode:
		case n.Data == "br":
			f.br()
		case isBlockTag(n):
			f.block(w.blockOf(n), n.Data)
		default:
			f.text(w.inlineOf(n))
		}
	}
	return f.String()
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func (w *mdWriter) blockOf(n *html.Node) string {
	switch n.Data {
	case "p", "div", "li":
		return w.flowOf(children(n))
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		body := strings.TrimSpace(strings.ReplaceAll(w.inlineChildren(n), "\n", " "))
		return strings.Repeat("#", level) + " " + body
	case "ul", "ol":
		return w.listOf(n)
	case "blockquote":
		lines := strings.Split(w.flowOf(children(n)), "\n")
		for i, l := range lines {
			if l == "" {
				lines[i] = ">"
			} else {
				lines[i] = "> " + l
			}
		}
		return strings.Join(lines, "\n")
	case "pre":
		return w.codeBlockOf(n)
	case "table":
		return w.tableOf(n)
	}
	return w.flowOf(children(n))
}

func (w *mdWriter) listOf(n *html.Node) string {
	ordered := n.Data == "ol"
	num := 1
	if s := attr(n, "start"); ordered && s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			num = v
		}
	}
	var items []string
	for _, c := range children(n) {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		marker := "- "
		if ordered {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		body := w.flowOf(children(c))
		indent := strings.Repeat(" ", len(marker))
		lines := strings.Split(body, "\n")
		for i := 1; i < len(lines); i++ {
			if lines[i] != "" {
				lines[i] = indent + lines[i]
			}
		}
		items = append(items, marker+strings.Join(lines, "\n"))
	}
	return strings.Join(items, "\n")
}

func (w *mdWriter) codeBlockOf(n *html.Node) string {
	lang := ""
	target := n
	for _, c := range children(n) {
		if c.Type == html.ElementNode && c.Data == "code" {
			target = c
			for _, cls := range strings.Fields(attr(c, "class")) {
				if strings.HasPrefix(cls, "language-") {
					lang = strings.TrimPrefix(cls, "language-")
					break
				}
			}
			break
		}
	}
	code := strings.TrimRight(rawText(target), "\n")
	fence := strings.Repeat("`", max(3, longestRun(code, '`')+1))
	return fence + lang + "\n" + code + "\n" + fence
}

// rawText returns the text below n, with <br> as a newline.
func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func longestRun(s string, ch byte) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == ch {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

func (w *mdWriter) tableOf(n *html.Node) string {
	var rows [][]*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		for _, c := range children(n) {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "thead", "tbody", "tfoot":
				collect(c)
			case "tr":
				var cells []*html.Node
				for _, cell := range children(c) {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						cells = append(cells, cell)
					}
				}
				rows = append(rows, cells)
			}
		}
	}
	collect(n)
	if len(rows) == 0 {
		return ""
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	var lines []string
	for i, r := range rows {
		cells := make([]string, width)
		for j := range cells {
			if j < len(r) {
				text := strings.TrimSpace(w.inlineChildren(r[j]))
				text = strings.ReplaceAll(text, "|", `\|`)
				cells[j] = strings.ReplaceAll(text, "\n", "<br>")
			}
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		if i == 0 {
			aligns := make([]string, width)
			for j := range aligns {
				align := ""
				if j < len(r) {
					align = cellAlignment(r[j])
				}
				switch align {
				case "left":
					aligns[j] = ":---"
				case "right":
					aligns[j] = "---:"
				case "center":
					aligns[j] = ":---:"
				default:
					aligns[j] = "---"
				}
			}
			lines = append(lines, "| "+strings.Join(aligns, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n")
}

func cellAlignment(n *html.Node) string {
	if a := attr(n, "align"); a != "" {
		return strings.ToLower(a)
	}
	style := attr(n, "style")
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(k) == "text-align" {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}

func (w *mdWriter) inlineChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			b.WriteString(escapeText(collapse(c.Data)))
		case c.Type != html.ElementNode:
		case c.Data == "br":
			b.WriteByte('\n')
		case isBlockTag(c):
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.TrimSpace(w.inlineChildren(c)))
		default:
			b.WriteString(w.inlineOf(c))
		}
	}
	return b.String()
}

// wrap puts marker around body. Whitespace at the edges of body moves
// outside the markers, where it does not stop them from delimiting.
func wrap(marker, body string) string {
	inner := strings.TrimSpace(body)
	if inner == "" {
		return body
	}
	start := strings.Index(body, inner)
	return body[:start] + marker + inner + marker + body[start+len(inner):]
}

func (w *mdWriter) inlineOf(n *html.Node) string {
	if construct, ok := unsupportedTags[n.Data]; ok {
		w.fail(construct)
		return ""
	}
	switch n.Data {
	case "b", "strong":
		return wrap("**", w.inlineChildren(n))
	case "i", "em":
		return wrap("*", w.inlineChildren(n))
	case "mark":
		return wrap("==", w.inlineChildren(n))
	case "s", "del", "strike":
		return wrap("~~", w.inlineChildren(n))
	case "u", "sup", "sub":
		body := w.inlineChildren(n)
		if strings.TrimSpace(body) == "" {
			return body
		}
		return "<" + n.Data + ">" + body + "</" + n.Data + ">"
	case "code":
		return codeSpan(rawText(n))
	case "a":
		return w.linkOf(n)
	case "img":
		return imageOf(n)
	}
	return w.inlineChildren(n)
}

func codeSpan(code string) string {
	ticks := strings.Repeat("`", longestRun(code, '`')+1)
	if strings.HasPrefix(code, "`") || strings.HasSuffix(code, "`") {
		code = " " + code + " "
	}
	return ticks + code + ticks
}

func destination(dest string) string {
	if strings.ContainsAny(dest, " ()<>") {
		return "<" + dest + ">"
	}
	return dest
}

func (w *mdWriter) linkOf(n *html.Node) string {
	text := w.inlineChildren(n)
	href := attr(n, "href")
	if href == "" {
		return text
	}
	out := "[" + text + "](" + destination(href)
	if title := attr(n, "title"); title != "" {
		out += ` "` + strings.ReplaceAll(title, `"`, `\"`) + `"`
	}
	return out + ")"
}

func imageOf(n *html.Node) string {
	src := attr(n, "src")
	if !isRemote(src) {
		src = MediaDir + "/" + src
	}
	out := "![" + attr(n, "alt") + "](" + destination(src) + ")"
	if m := widthStyleRe.FindStringSubmatch(attr(n, "style")); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out += fmt.Sprintf("{width=%d}", int(v))
		}
	} else if wa := attr(n, "width"); wa != "" {
		if v, err := strconv.Atoi(wa); err == nil {
			out += fmt.Sprintf("{width=%d}", v)
		}
	}
	return out
}

func collapse(s string) string {
	return strings.ReplaceAll(whitespaceRe.ReplaceAllString(s, " "), "→", "-->")
}

// escapeText escapes Markdown syntax characters in literal text, leaving
// math regions and sound tags untouched.
func escapeText(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range verbatimRe.FindAllStringIndex(s, -1) {
		b.WriteString(escapePlain(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(escapePlain(s[last:]))
	return b.String()
}

func escapePlain(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '*', '_', '`', '$':
			b.WriteByte('\\')
		case '~', '=':
			// At either edge the neighbour may be a marker of the same run.
			if i == 0 || i == len(s)-1 || s[i+1] == c || s[i-1] == c {
				b.WriteByte('\\')
			}
		case ']':
			// \[ opens display math, so links and images are broken at
			// the closer.
			b.WriteByte('\\')
		case '<':
			if i+1 < len(s) && isTagStart(s[i+1]) {
				b.WriteByte('\\')
			}
		case '&':
			if entityLikeRe.MatchString(s[i:]) && entityLikeRe.FindStringIndex(s[i:])[0] == 0 {
				b.WriteByte('\\')
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isTagStart(c byte) bool {
	return c == '/' || c == '!' || c == '?' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// escapeLineStarts guards text that would turn into block syntax at the
// start of a line.
func escapeLineStarts(s string) string {
	s = lineHeadingRe.ReplaceAllString(s, `\$1$2`)
	s = lineQuoteRe.ReplaceAllString(s, `\>`)
	s = lineBulletRe.ReplaceAllString(s, `\$1$2`)
	s = lineOrderedRe.ReplaceAllString(s, `$1\$2$3`)
	return lineRuleRe.ReplaceAllString(s, `\$1`)
}
