package markup

import (
	"iter"
	"strings"

	"golang.org/x/net/html"
)

type tokenKind int

const (
	startTagToken tokenKind = iota
	endTagToken
	textToken
	// verbatimToken covers comments and doctypes, re-emitted as written.
	verbatimToken
)

type token struct {
	kind        tokenKind
	name        string
	attrs       []html.Attribute
	selfClosing bool
	text        string
	raw         string
}

// rawTextElements hold character data that is never parsed as markup.
var rawTextElements = map[string]bool{
	"script": true,
	"style":  true,
}

// tokens returns a lazy, single-use sequence of the tokens in src.
// Tag and attribute names are lower-cased, attribute values and text
// outside raw-text elements are entity-decoded.
func tokens(src string) iter.Seq[token] {
	return func(yield func(token) bool) {
		z := html.NewTokenizer(strings.NewReader(src))
		for {
			tt := z.Next()
			if tt == html.ErrorToken {
				// io.EOF; a strings.Reader has no other failure mode.
				return
			}

			tok := token{raw: string(z.Raw())}
			switch tt {
			case html.StartTagToken, html.SelfClosingTagToken:
				t := z.Token()
				tok.kind = startTagToken
				tok.name = t.Data
				tok.attrs = t.Attr
				tok.selfClosing = tt == html.SelfClosingTagToken
				// Only script and style switch the scanner into raw text;
				// title, textarea, noscript and friends keep parsing tags.
				if tok.selfClosing || !rawTextElements[tok.name] {
					z.NextIsNotRawText()
				}
			case html.EndTagToken:
				tok.kind = endTagToken
				tok.name = z.Token().Data
			case html.TextToken:
				tok.kind = textToken
				tok.text = string(z.Text())
			default:
				tok.kind = verbatimToken
			}

			if !yield(tok) {
				return
			}
		}
	}
}
