// Package markup translates message text between the neutral rich-text markup used
// on the backend wire (an HTML subset) and the markdown dialects spoken by chat
// platforms.
//
// Each dialect owns an ordered table of rules applied as a pipeline. Code and
// preformatted blocks are matched first and their output is set aside until the
// end of the pipeline, so emphasis rules never touch literal code. Translation is
// best-effort: anything a rule does not match is passed through verbatim.
package markup

import (
	"regexp"
	"strconv"
	"strings"
)

// Dialect identifies a rich-text markup syntax.
type Dialect int

const (
	// Markdown uses *bold*, _italic_ and ~underline~.
	Markdown Dialect = iota
	// Discord uses **bold**, _italic_ and __underline__.
	Discord
	// HTML is the neutral form.
	HTML
)

var dialectNames = map[Dialect]string{
	Markdown: "Markdown",
	Discord:  "Discord",
	HTML:     "HTML",
}

func (d Dialect) String() string {
	if name, ok := dialectNames[d]; ok {
		return name
	}
	return "Dialect(" + strconv.Itoa(int(d)) + ")"
}

// ParseDialect maps a format tag such as "HTML" onto a Dialect.
func ParseDialect(tag string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "html":
		return HTML, true
	case "markdown", "markdownv1":
		return Markdown, true
	case "discord":
		return Discord, true
	}
	return 0, false
}

// rule is one step of a translation pipeline. When fn is set it receives the
// submatches of every match; otherwise replace is expanded with $n references.
// Output of protected rules is held back from every later rule.
type rule struct {
	pattern *regexp.Regexp
	replace string
	fn      func(groups []string) string
	protect bool
}

type table struct {
	rules []rule
	// final runs after protected output is put back.
	final []rule
}

// Placeholders hold protected output while the remaining rules run. They contain
// no character any rule matches on.
const placeholderMark = "\x00"

func placeholder(i int) string {
	return placeholderMark + strconv.Itoa(i) + placeholderMark
}

var placeholderRe = regexp.MustCompile(placeholderMark + `(\d+)` + placeholderMark)

func (r rule) expand(groups []string, match []int, src string) string {
	if r.fn != nil {
		return r.fn(groups)
	}
	return string(r.pattern.ExpandString(nil, r.replace, src, match))
}

func (r rule) apply(text string, stash *[]string) string {
	matches := r.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		groups := make([]string, len(m)/2)
		for i := range groups {
			if m[2*i] >= 0 {
				groups[i] = text[m[2*i]:m[2*i+1]]
			}
		}
		out := r.expand(groups, m, text)
		if r.protect {
			*stash = append(*stash, out)
			out = placeholder(len(*stash) - 1)
		}
		b.WriteString(out)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func (t table) run(text string) string {
	var stash []string
	for _, r := range t.rules {
		text = r.apply(text, &stash)
	}
	// A protected match may enclose an earlier placeholder.
	for range len(stash) {
		if !placeholderRe.MatchString(text) {
			break
		}
		text = placeholderRe.ReplaceAllStringFunc(text, func(ph string) string {
			i, err := strconv.Atoi(strings.Trim(ph, placeholderMark))
			if err != nil || i >= len(stash) {
				return ph
			}
			return stash[i]
		})
	}
	for _, r := range t.final {
		text = r.apply(text, nil)
	}
	return text
}

// ToNeutral converts platform text written in dialect d into neutral markup.
func ToNeutral(text string, d Dialect) string {
	if text == "" {
		return text
	}
	t, ok := toNeutral[d]
	if !ok {
		return text
	}
	return t.run(text)
}

// FromNeutral converts neutral markup into dialect d.
func FromNeutral(text string, d Dialect) string {
	if text == "" {
		return text
	}
	t, ok := fromNeutral[d]
	if !ok {
		return text
	}
	return t.run(text)
}

// Convert translates text from one dialect to another through the neutral form.
func Convert(text string, from, to Dialect) string {
	if from == to {
		return text
	}
	return FromNeutral(ToNeutral(text, from), to)
}
