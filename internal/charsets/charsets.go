// Package charsets sniffs the character encoding of response bodies
// so text can be transcoded to UTF-8.
package charsets

import (
	"bytes"
	"strings"

	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

var boms = []struct {
	bom []byte
	enc string
}{
	{[]byte{0xfe, 0xff}, "utf-16be"},
	{[]byte{0xff, 0xfe}, "utf-16le"},
	{[]byte{0xef, 0xbb, 0xbf}, "utf-8"},
}

// FindEncoding sniffs the encoding of content from its BOM or an
// HTML meta charset declaration within the first kilobyte. A nil
// encoding means the content is already UTF-8 (or undetectable).
func FindEncoding(content []byte) (enc encoding.Encoding, name string) {
	if len(content) == 0 {
		return
	}
	for _, b := range boms {
		if bytes.HasPrefix(content, b.bom) {
			return lookup(b.enc)
		}
	}
	if label := scanMetaCharset(content); label != "" {
		return lookup(label)
	}
	return
}

func lookup(label string) (encoding.Encoding, string) {
	enc, name := htmlcharset.Lookup(label)
	if strings.ToLower(name) == "utf-8" {
		enc = nil
	}
	return enc, name
}

// scanMetaCharset looks for `charset=` inside the head of an HTML
// document without a full parse.
func scanMetaCharset(content []byte) string {
	const window = 1024
	if len(content) > window {
		content = content[:window]
	}
	lower := bytes.ToLower(content)
	i := bytes.Index(lower, []byte("charset="))
	if i < 0 {
		return ""
	}
	rest := lower[i+len("charset="):]
	rest = bytes.TrimLeft(rest, `"'`)
	end := bytes.IndexAny(rest, `"' >/;`)
	if end < 0 {
		end = len(rest)
	}
	return string(bytes.TrimSpace(rest[:end]))
}
