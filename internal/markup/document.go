package markup

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultCharset applies when the upstream declares none.
const DefaultCharset = "utf-8"

var (
	// ErrUnsupportedCharset is returned for charset labels with no known encoding.
	ErrUnsupportedCharset = errors.New("unsupported charset")
	// ErrUndecodable is returned when a document is not valid in its declared charset.
	ErrUndecodable = errors.New("document cannot be decoded")
)

// RewriteDocument decodes body from charset, transforms it and encodes the
// result back into the same charset. Runes the charset cannot represent are
// written as numeric character references.
func RewriteDocument(body []byte, charset string, rule *Rule, proxyBase, originBase string) ([]byte, Stats, error) {
	enc, name, err := lookupEncoding(charset)
	if err != nil {
		return nil, Stats{}, err
	}

	src, err := decode(body, enc, name)
	if err != nil {
		return nil, Stats{}, err
	}

	out, stats := Transform(src, rule, proxyBase, originBase)

	encoded, err := encode(out, enc, name)
	if err != nil {
		return nil, Stats{}, err
	}
	return encoded, stats, nil
}

func lookupEncoding(label string) (encoding.Encoding, string, error) {
	if label == "" {
		label = DefaultCharset
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedCharset, label)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedCharset, label)
	}
	return enc, name, nil
}

func decode(body []byte, enc encoding.Encoding, name string) (string, error) {
	if name == DefaultCharset {
		if !utf8.Valid(body) {
			return "", fmt.Errorf("%w: invalid utf-8", ErrUndecodable)
		}
		return string(body), nil
	}
	b, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUndecodable, name, err)
	}
	return string(b), nil
}

func encode(s string, enc encoding.Encoding, name string) ([]byte, error) {
	if name == DefaultCharset {
		return []byte(s), nil
	}
	b, err := encoding.HTMLEscapeUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return b, nil
}
