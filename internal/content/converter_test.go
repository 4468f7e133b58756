package content

import (
	"errors"
	"reflect"
	"testing"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/models"
)

func toHTML(t *testing.T, c *Converter, md string) string {
	t.Helper()
	out, err := c.ToExternal(md, models.NoteTypeQA, "A:")
	if err != nil {
		t.Fatalf("ToExternal(%q): %v", md, err)
	}
	return out
}

func toMD(t *testing.T, c *Converter, src string) string {
	t.Helper()
	out, err := c.ToMarkup(src, models.NoteTypeQA, "A:")
	if err != nil {
		t.Fatalf("ToMarkup(%q): %v", src, err)
	}
	return out
}

func TestToExternal(t *testing.T) {
	c := New()
	tests := []struct {
		md   string
		want string
	}{
		{"**bold** and *it*", "<strong>bold</strong> and <em>it</em>"},
		{"line1\nline2", "line1<br>line2"},
		{"para1\n\npara2", "para1<br><br>para2"},
		{"`a < b`", "<code>a &lt; b</code>"},
		{"$x^2$ and \\(y\\)", `\(x^2\) and \(y\)`},
		{"$$\\sum_i x_i$$", `\[\sum_i x_i\]`},
		{"![cat](media/cat.png){width=200}", `<img src="cat.png" alt="cat" style="width: 200px;">`},
		{"![dog](./img/dog.png)", `<img src="dog.png" alt="dog">`},
		{"```python\nprint(1)\n```", `<pre><code class="language-python">print(1)</code></pre>`},
		{"- a\n- b", "<ul><li>a</li><li>b</li></ul>"},
		{"{{c1::Paris}} is the capital", "{{c1::Paris}} is the capital"},
		{"a --> b", "a → b"},
		{"<u>under</u>", "<u>under</u>"},
		{"[Go](https://go.dev)", `<a href="https://go.dev">Go</a>`},
		{"Tom & Jerry", "Tom &amp; Jerry"},
		{"~~old~~", "<s>old</s>"},
		{"> a\n>\n> b", "<blockquote>a<br><br>b</blockquote>"},
		{"> a\n> b", "<blockquote>a<br>b</blockquote>"},
	}
	for _, tt := range tests {
		if got := toHTML(t, c, tt.md); got != tt.want {
			t.Errorf("ToExternal(%q) = %q, want %q", tt.md, got, tt.want)
		}
	}
}

func TestToExternal_Blocks(t *testing.T) {
	c := New()
	md := "# Title\n\nSome **bold** text\n\n- one\n- two\n\n> quote"
	want := "<h1>Title</h1><br>Some <strong>bold</strong> text<br><ul><li>one</li><li>two</li></ul><br><blockquote>quote</blockquote>"
	if got := toHTML(t, c, md); got != want {
		t.Errorf("ToExternal =\n%q\nwant\n%q", got, want)
	}
	if back := toMD(t, c, want); back != md {
		t.Errorf("ToMarkup =\n%q\nwant\n%q", back, md)
	}
}

func TestToExternal_Table(t *testing.T) {
	c := New()
	md := "| a | b |\n| :--- | --- |\n| 1 | 2 |"
	want := `<table><thead><tr><th align="left">a</th><th>b</th></tr></thead><tbody><tr><td align="left">1</td><td>2</td></tr></tbody></table>`
	if got := toHTML(t, c, md); got != want {
		t.Errorf("ToExternal = %q, want %q", got, want)
	}
	if back := toMD(t, c, want); back != md {
		t.Errorf("ToMarkup = %q, want %q", back, md)
	}
}

func TestToExternal_HorizontalRule(t *testing.T) {
	_, err := New().ToExternal("above\n\n***\n\nbelow", models.NoteTypeQA, "A:")
	var ce *apperr.ContentConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContentConversionError", err)
	}
	if ce.Field != "A:" {
		t.Errorf("field = %q, want A:", ce.Field)
	}
}

func TestToMarkup(t *testing.T) {
	c := New()
	tests := []struct {
		html string
		want string
	}{
		{"<b>bold</b> text<br>next", "**bold** text\nnext"},
		{"<div>a</div><div>b</div>", "a\nb"},
		{"a_b*c", `a\_b\*c`},
		{"# not heading", `\# not heading`},
		{"costs $5", `costs \$5`},
		{`<img src="x.png" style="width: 120px;">`, "![](media/x.png){width=120}"},
		{`<img src="https://example.com/x.png" alt="r">`, "![r](https://example.com/x.png)"},
		{`\(x_1\) and more`, `\(x_1\) and more`},
		{"<mark>hi</mark> <del>old</del>", "==hi== ~~old~~"},
		{"a → b", "a --> b"},
		{"<b>Note: </b>text", "**Note:** text"},
		{"word<i> this</i>", "word *this*"},
		{"<mark>m</mark>=", `==m==\=`},
		{"text [foo](bar) and ![x](y)", `text [foo\](bar) and ![x\](y)`},
		{"play [sound:meow.mp3]", "play [sound:meow.mp3]"},
		{"<blockquote>a<br><br>b</blockquote>", "> a\n>\n> b"},
		{`<pre><code class="language-go">fmt.Println("x")</code></pre>`, "```go\nfmt.Println(\"x\")\n```"},
		{"<ol><li>first</li><li>second<ul><li>nested</li></ul></li></ol>", "1. first\n2. second\n   - nested"},
	}
	for _, tt := range tests {
		if got := toMD(t, c, tt.html); got != tt.want {
			t.Errorf("ToMarkup(%q) = %q, want %q", tt.html, got, tt.want)
		}
	}
}

func TestToMarkup_Unsupported(t *testing.T) {
	c := New()
	for _, src := range []string{"a<hr>b", `<iframe src="x"></iframe>`, "<video></video>"} {
		_, err := c.ToMarkup(src, models.NoteTypeQA, "Q:")
		if !errors.Is(err, apperr.ErrContentConversion) {
			t.Errorf("ToMarkup(%q) err = %v, want ErrContentConversion", src, err)
		}
	}
}

func TestCodecIdempotence(t *testing.T) {
	c := New()
	inputs := []string{
		"<b>bold</b> text<br>next",
		"<div>Anki <i>editor</i></div><div><br></div><div>line</div>",
		"<h2>Head</h2>para<ul><li>x</li></ul>",
		`<table><tr><td>a|b</td><td>c<br>d</td></tr></table>`,
		"price: 5 * 3 = 15 &amp;&lt;tag&gt;",
		`<img src="a b.png" alt="sp">`,
		`\[\frac{1}{2}\] inline \(a&lt;b\)`,
		"<blockquote>q1<br>q2</blockquote>after",
		"1. not a list<br>- nor this<br>&gt; nor quote",
		"<b>Note: </b>text",
		"<i> this</i> and <b>that </b>",
		"<mark>m</mark>=",
		"=<mark>m</mark>",
		"<s>x</s>~ and ~<s>y</s>",
		"<blockquote>a<br><br>b</blockquote>",
		"text [foo](bar) and ![x](y)",
		"[sound:meow.mp3] and a [bracket]",
	}
	for _, src := range inputs {
		m1 := toMD(t, c, src)
		m2 := toMD(t, c, toHTML(t, c, m1))
		if m1 != m2 {
			t.Errorf("not idempotent for %q\nfirst:  %q\nsecond: %q", src, m1, m2)
		}
	}
}

func TestChoiceAnswerNormalised(t *testing.T) {
	c := New()
	got, err := c.ToExternal("3,1", models.NoteTypeChoice, "A:")
	if err != nil {
		t.Fatalf("ToExternal: %v", err)
	}
	if got != "1, 3" {
		t.Errorf("answer = %q, want %q", got, "1, 3")
	}
}

func TestNoteFieldsRoundTrip(t *testing.T) {
	c := New()
	note := &models.Note{ID: 9, Type: models.NoteTypeQA, Fields: map[string]string{
		"Q:": "What is *Go*?",
		"A:": "A language",
	}}
	fields, err := c.NoteFields(note)
	if err != nil {
		t.Fatalf("NoteFields: %v", err)
	}
	if fields["Question"] != "What is <em>Go</em>?" || fields["Extra"] != "" {
		t.Errorf("fields = %v", fields)
	}
	back, err := c.NoteFromExternal(models.ExternalNote{ID: 9, Type: models.NoteTypeQA, Fields: fields})
	if err != nil {
		t.Fatalf("NoteFromExternal: %v", err)
	}
	if !reflect.DeepEqual(back.Fields, note.Fields) {
		t.Errorf("fields = %v, want %v", back.Fields, note.Fields)
	}
}

func TestMediaReferences(t *testing.T) {
	md := "![a](media/one.png) ![b](<media/two words.png>) [sound:voice.mp3] <img src=\"three.jpg\"> ![r](https://x.org/r.png) ![lit\\](zzz.png)"
	got := MediaReferences(md)
	want := []string{"one.png", "three.jpg", "two words.png", "voice.mp3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MediaReferences = %v, want %v", got, want)
	}
}

func TestRewriteMediaReferences(t *testing.T) {
	md := "![a](media/one.png) and [sound:one.png]"
	got := RewriteMediaReferences(md, map[string]string{"one.png": "one_1.png"})
	want := "![a](media/one_1.png) and [sound:one_1.png]"
	if got != want {
		t.Errorf("RewriteMediaReferences = %q, want %q", got, want)
	}
}
