// Package markup rewrites HTML documents so that navigation stays on the
// proxy: link-bearing attributes are mapped through the rewrite package and
// a substitution Rule is applied to visible text.
package markup

import (
	"strings"

	"golang.org/x/net/html"

	"rewrite-proxy-go/internal/rewrite"
)

// linkAttributes maps an element to its URL-bearing attribute.
var linkAttributes = map[string]string{
	"a":      "href",
	"img":    "src",
	"link":   "href",
	"iframe": "src",
	"script": "src",
}

// voidElements never get an end tag in the output, even when the input
// carries a stray one.
var voidElements = map[string]bool{
	"img":   true,
	"meta":  true,
	"link":  true,
	"input": true,
	"br":    true,
	"hr":    true,
}

// Stats counts what a single Transform rewrote.
type Stats struct {
	LocalLinks       int
	OpaqueLinks      int
	PassthroughLinks int
	Substitutions    int
}

func (s *Stats) countLink(k rewrite.Kind) {
	switch k {
	case rewrite.Local:
		s.LocalLinks++
	case rewrite.Opaque:
		s.OpaqueLinks++
	default:
		s.PassthroughLinks++
	}
}

// parseState lives for exactly one document.
type parseState struct {
	out     strings.Builder
	current string // most recently opened element
	stats   Stats

	rule       *Rule
	proxyBase  string
	originBase string
}

// Transform rewrites src in a single forward pass and returns the
// reassembled document. Token order is preserved; malformed markup is
// carried through as text rather than reported.
func Transform(src string, rule *Rule, proxyBase, originBase string) (string, Stats) {
	st := &parseState{
		rule:       rule,
		proxyBase:  proxyBase,
		originBase: originBase,
	}
	st.out.Grow(len(src) + len(src)/8)

	for tok := range tokens(src) {
		switch tok.kind {
		case startTagToken:
			st.startTag(tok)
			if tok.selfClosing {
				st.endTag(tok.name)
			}
		case endTagToken:
			st.endTag(tok.name)
		case textToken:
			st.text(tok)
		case verbatimToken:
			st.out.WriteString(tok.raw)
		}
	}
	return st.out.String(), st.stats
}

func (st *parseState) startTag(tok token) {
	st.current = tok.name
	linkAttr := linkAttributes[tok.name]

	st.out.WriteByte('<')
	st.out.WriteString(tok.name)
	for _, a := range tok.attrs {
		st.out.WriteByte(' ')
		st.out.WriteString(a.Key)
		if a.Val == "" {
			continue
		}

		val := a.Val
		if linkAttr != "" && a.Key == linkAttr {
			r := rewrite.Classify(val, st.proxyBase, st.originBase)
			st.stats.countLink(r.Kind)
			val = r.URL
		}
		st.out.WriteString(`="`)
		st.out.WriteString(html.EscapeString(val))
		st.out.WriteByte('"')
	}
	st.out.WriteByte('>')
}

func (st *parseState) endTag(name string) {
	if voidElements[name] {
		return
	}
	st.out.WriteString("</")
	st.out.WriteString(name)
	st.out.WriteByte('>')
}

func (st *parseState) text(tok token) {
	if rawTextElements[st.current] {
		st.out.WriteString(tok.raw)
		return
	}
	s, n := st.rule.Apply(tok.text)
	st.stats.Substitutions += n
	st.out.WriteString(html.EscapeString(s))
}
