package markup

import (
	"regexp"
	"strings"
)

// Shared steps.
var (
	// & is escaped first and restored last so existing entities survive.
	escapeRules = []rule{
		{pattern: regexp.MustCompile(`&`), replace: "&amp;"},
		{pattern: regexp.MustCompile(`<`), replace: "&lt;"},
		{pattern: regexp.MustCompile(`>`), replace: "&gt;"},
	}
	unescapeRules = []rule{
		{pattern: regexp.MustCompile(`&lt;`), replace: "<"},
		{pattern: regexp.MustCompile(`&gt;`), replace: ">"},
		{pattern: regexp.MustCompile(`&amp;`), replace: "&"},
	}

	// Markdown fences, matched on escaped text.
	fenceLangRule   = rule{pattern: regexp.MustCompile("(?s)```([\\w+-]+)\\n(.*?)```"), replace: `<pre><code class="language-$1">$2</code></pre>`, protect: true}
	fenceRule       = rule{pattern: regexp.MustCompile("(?s)```(.*?)```"), replace: `<pre>$1</pre>`, protect: true}
	inlineCodeRule  = rule{pattern: regexp.MustCompile("`([^`\\n]+)`"), replace: `<code>$1</code>`, protect: true}
	quoteLinesRule  = rule{pattern: regexp.MustCompile(`(?m)^&gt; ?[^\n]*(?:\n&gt; ?[^\n]*)*`), fn: wrapQuote}
	quotePrefixRe   = regexp.MustCompile(`^&gt; ?`)
	italicWordsRule = rule{pattern: regexp.MustCompile(`\b_([^_\n]+?)_\b`), replace: `<i>$1</i>`}

	// Neutral code, matched before any emphasis.
	preLangRule  = rule{pattern: regexp.MustCompile(`(?s)<pre><code class="language-([\w+-]+)">(.*?)</code></pre>`), replace: "```$1\n$2```", protect: true}
	preCodeRule  = rule{pattern: regexp.MustCompile(`(?s)<pre><code>(.*?)</code></pre>`), replace: "```$1```", protect: true}
	codeLangRule = rule{pattern: regexp.MustCompile(`(?s)<code class="language-([\w+-]+)">(.*?)</code>`), replace: "```$1\n$2```", protect: true}
	preRule      = rule{pattern: regexp.MustCompile(`(?s)<pre>(.*?)</pre>`), replace: "```$1```", protect: true}
	codeRule     = rule{pattern: regexp.MustCompile(`(?s)<code>(.*?)</code>`), replace: "`$1`", protect: true}
	linkRule     = rule{pattern: regexp.MustCompile(`(?s)<a href="([^"]+)"[^>]*>.*?</a>`), replace: "$1"}
	quoteRule    = rule{pattern: regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`), fn: prefixQuote}

	boldTag      = regexp.MustCompile(`(?s)<(?:b|strong)>(.*?)</(?:b|strong)>`)
	italicTag    = regexp.MustCompile(`(?s)<(?:i|em)>(.*?)</(?:i|em)>`)
	underlineTag = regexp.MustCompile(`(?s)<(?:u|ins)>(.*?)</(?:u|ins)>`)
)

func concat(groups ...[]rule) []rule {
	var out []rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var toNeutral = map[Dialect]table{
	Markdown: {
		rules: concat(escapeRules, []rule{
			fenceLangRule,
			fenceRule,
			inlineCodeRule,
			{pattern: regexp.MustCompile(`\*([^*\n]+)\*`), replace: `<b>$1</b>`},
			italicWordsRule,
			{pattern: regexp.MustCompile(`~([^~\n]+)~`), replace: `<u>$1</u>`},
			quoteLinesRule,
		}),
	},
	Discord: {
		rules: concat(escapeRules, []rule{
			fenceLangRule,
			fenceRule,
			inlineCodeRule,
			{pattern: regexp.MustCompile(`\*\*([^*\n]+)\*\*`), replace: `<b>$1</b>`},
			{pattern: regexp.MustCompile(`\b__([^_\n]+?)__\b`), replace: `<u>$1</u>`},
			italicWordsRule,
			quoteLinesRule,
		}),
	},
	HTML: {},
}

var fromNeutral = map[Dialect]table{
	Markdown: {
		rules: []rule{
			preLangRule,
			preCodeRule,
			codeLangRule,
			preRule,
			codeRule,
			linkRule,
			{pattern: boldTag, replace: "*$1*"},
			{pattern: italicTag, replace: "_${1}_"},
			{pattern: underlineTag, replace: "~$1~"},
			quoteRule,
		},
		final: unescapeRules,
	},
	Discord: {
		rules: []rule{
			preLangRule,
			preCodeRule,
			codeLangRule,
			preRule,
			codeRule,
			linkRule,
			{pattern: boldTag, replace: "**$1**"},
			{pattern: italicTag, replace: "_${1}_"},
			{pattern: underlineTag, replace: "__${1}__"},
			quoteRule,
		},
		final: unescapeRules,
	},
	HTML: {},
}

// wrapQuote turns a run of "&gt; " prefixed lines into one blockquote element.
func wrapQuote(groups []string) string {
	lines := strings.Split(groups[0], "\n")
	for i, line := range lines {
		lines[i] = quotePrefixRe.ReplaceAllString(line, "")
	}
	return "<blockquote>" + strings.Join(lines, "\n") + "</blockquote>"
}

// prefixQuote renders a blockquote element by prefixing every line of its body.
func prefixQuote(groups []string) string {
	body := strings.Trim(groups[1], "\n")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
