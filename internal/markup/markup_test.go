package markup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/polaris-bridge/internal/markup"
)

func TestParseDialect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want markup.Dialect
		ok   bool
	}{
		{tag: "HTML", want: markup.HTML, ok: true},
		{tag: "html", want: markup.HTML, ok: true},
		{tag: "Markdown", want: markup.Markdown, ok: true},
		{tag: " discord ", want: markup.Discord, ok: true},
		{tag: "bbcode", ok: false},
		{tag: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := markup.ParseDialect(tt.tag)
		assert.Equal(t, tt.ok, ok, tt.tag)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.tag)
		}
	}
	assert.Equal(t, "Discord", markup.Discord.String())
}

func TestToNeutral(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect markup.Dialect
		in      string
		want    string
	}{
		{name: "bold", dialect: markup.Markdown, in: "*hi*", want: "<b>hi</b>"},
		{name: "italic", dialect: markup.Markdown, in: "say _hi_ now", want: "say <i>hi</i> now"},
		{name: "snake case untouched", dialect: markup.Markdown, in: "snake_case_name", want: "snake_case_name"},
		{name: "underline", dialect: markup.Markdown, in: "~hi~", want: "<u>hi</u>"},
		{name: "inline code keeps emphasis", dialect: markup.Markdown, in: "`*x*`", want: "<code>*x*</code>"},
		{name: "fenced code with language", dialect: markup.Markdown, in: "```go\nx := *p\n```", want: "<pre><code class=\"language-go\">x := *p\n</code></pre>"},
		{name: "fenced code", dialect: markup.Markdown, in: "```a < b```", want: "<pre>a &lt; b</pre>"},
		{name: "angle brackets escaped", dialect: markup.Markdown, in: "1 < 2 > 0", want: "1 &lt; 2 &gt; 0"},
		{name: "ampersand escaped", dialect: markup.Markdown, in: "Tom & Jerry", want: "Tom &amp; Jerry"},
		{name: "entity kept literal", dialect: markup.Markdown, in: "type &lt; here", want: "type &amp;lt; here"},
		{name: "multi line quote", dialect: markup.Markdown, in: "> one\n> two\nafter", want: "<blockquote>one\ntwo</blockquote>\nafter"},
		{name: "discord bold", dialect: markup.Discord, in: "**hi**", want: "<b>hi</b>"},
		{name: "discord underline", dialect: markup.Discord, in: "__hi__", want: "<u>hi</u>"},
		{name: "discord italic", dialect: markup.Discord, in: "_hi_", want: "<i>hi</i>"},
		{name: "html untouched", dialect: markup.HTML, in: "<b>x</b>", want: "<b>x</b>"},
		{name: "unbalanced passthrough", dialect: markup.Markdown, in: "*open", want: "*open"},
		{name: "empty", dialect: markup.Markdown, in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, markup.ToNeutral(tt.in, tt.dialect))
		})
	}
}

func TestFromNeutral(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect markup.Dialect
		in      string
		want    string
	}{
		{name: "bold", dialect: markup.Markdown, in: "<b>hi</b>", want: "*hi*"},
		{name: "strong", dialect: markup.Markdown, in: "<strong>hi</strong>", want: "*hi*"},
		{name: "italic", dialect: markup.Markdown, in: "<i>hi</i>", want: "_hi_"},
		{name: "underline", dialect: markup.Markdown, in: "<u>hi</u>", want: "~hi~"},
		{name: "link becomes url", dialect: markup.Markdown, in: `see <a href="https://example.com">here</a>`, want: "see https://example.com"},
		{name: "code keeps tags literal", dialect: markup.Markdown, in: "<code>&lt;b&gt;</code>", want: "`<b>`"},
		{name: "pre with language", dialect: markup.Markdown, in: `<pre><code class="language-go">fmt.Println()</code></pre>`, want: "```go\nfmt.Println()```"},
		{name: "pre", dialect: markup.Markdown, in: "<pre><b>x</b></pre>", want: "```<b>x</b>```"},
		{name: "quote prefixes every line", dialect: markup.Markdown, in: "<blockquote>one\ntwo</blockquote>", want: "> one\n> two"},
		{name: "unescape", dialect: markup.Markdown, in: "1 &lt; 2", want: "1 < 2"},
		{name: "unescape ampersand last", dialect: markup.Markdown, in: "a &amp; b &amp;lt;", want: "a & b &lt;"},
		{name: "link with query", dialect: markup.Markdown, in: `<a href="https://example.com/?a=1&amp;b=2">q</a>`, want: "https://example.com/?a=1&b=2"},
		{name: "discord bold", dialect: markup.Discord, in: "<b>hi</b>", want: "**hi**"},
		{name: "discord underline", dialect: markup.Discord, in: "<u>hi</u>", want: "__hi__"},
		{name: "unclosed tag passthrough", dialect: markup.Markdown, in: "<b>hi", want: "<b>hi"},
		{name: "html untouched", dialect: markup.HTML, in: "<b>hi</b>", want: "<b>hi</b>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, markup.FromNeutral(tt.in, tt.dialect))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect markup.Dialect
		in      string
	}{
		{name: "markdown emphasis", dialect: markup.Markdown, in: "*bold* _it_ ~under~ `code`\n> quote one\n> quote two\nplain 1 < 2"},
		{name: "markdown fence with language", dialect: markup.Markdown, in: "```go\nfmt.Println(\"*x*\")```"},
		{name: "markdown fence", dialect: markup.Markdown, in: "```raw *text*```"},
		{name: "markdown link", dialect: markup.Markdown, in: "*docs* at https://example.com/search?q=go&page=2 & more"},
		{name: "discord emphasis", dialect: markup.Discord, in: "**bold** _it_ __under__ `code`\n> quoted"},
		{name: "discord link", dialect: markup.Discord, in: "see https://example.com/a_b?x=1&y=2"},
		{name: "html", dialect: markup.HTML, in: `<b>bold</b> &amp; <a href="https://example.com/?a=1&amp;b=2">link</a>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			neutral := markup.ToNeutral(tt.in, tt.dialect)
			assert.Equal(t, tt.in, markup.FromNeutral(neutral, tt.dialect))
		})
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "*hi*", markup.Convert("<b>hi</b>", markup.HTML, markup.Markdown))
	assert.Equal(t, "**hi** _there_", markup.Convert("*hi* _there_", markup.Markdown, markup.Discord))
	assert.Equal(t, "<b>hi</b>", markup.Convert("<b>hi</b>", markup.HTML, markup.HTML))
	assert.Equal(t, "Tom &amp; Jerry <b>now</b>", markup.Convert("Tom & Jerry *now*", markup.Markdown, markup.HTML))
	assert.Equal(t, "Tom & Jerry *now*", markup.Convert("Tom &amp; Jerry <b>now</b>", markup.HTML, markup.Markdown))
}
