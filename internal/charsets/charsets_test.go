package charsets

import (
	"testing"
)

func TestFindEncodingEmpty(t *testing.T) {
	enc, name := FindEncoding(nil)
	if enc != nil || name != "" {
		t.Errorf("got %v, %q; want nil encoding", enc, name)
	}
}

func TestFindEncodingUTF8BOM(t *testing.T) {
	enc, _ := FindEncoding([]byte{0xef, 0xbb, 0xbf, 'h', 'i'})
	if enc != nil {
		t.Errorf("utf-8 must map to a nil encoding, got %v", enc)
	}
}

func TestFindEncodingUTF16BOM(t *testing.T) {
	enc, name := FindEncoding([]byte{0xfe, 0xff, 0x00, 'h'})
	if enc == nil {
		t.Fatal("utf-16be not detected from BOM")
	}
	if name != "utf-16be" {
		t.Errorf("name = %q; want utf-16be", name)
	}
}

func TestFindEncodingMetaCharset(t *testing.T) {
	cases := []string{
		`<html><head><meta charset="iso-8859-1"></head></html>`,
		`<html><head><meta charset=iso-8859-1></head></html>`,
		`<meta http-equiv="Content-Type" content="text/html; charset=iso-8859-1">`,
	}
	for _, c := range cases {
		enc, name := FindEncoding([]byte(c))
		if enc == nil {
			t.Errorf("no encoding found in %q", c)
			continue
		}
		if name != "windows-1252" {
			// iso-8859-1 canonicalizes to windows-1252 per the
			// WHATWG encoding standard.
			t.Errorf("name = %q; want windows-1252", name)
		}
	}
}

func TestFindEncodingPlainText(t *testing.T) {
	enc, _ := FindEncoding([]byte("just some ascii text"))
	if enc != nil {
		t.Errorf("plain text misdetected as %v", enc)
	}
}
