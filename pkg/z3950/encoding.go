package z3950

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// legacyEncodings are tried in order on non-UTF-8 subfields. Sniffing
// reports GBK as windows-1252, so the multi-byte sets go first.
var legacyEncodings = []encoding.Encoding{
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
	japanese.ShiftJIS,
	japanese.EUCJP,
	korean.EUCKR,
}

// DecodeText converts field bytes from a partner record to UTF-8.
func DecodeText(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if utf8.Valid(data) {
		return string(data)
	}
	for _, enc := range legacyEncodings {
		if s, ok := decodeClean(data, enc); ok {
			return s
		}
	}
	if enc, _, _ := charset.DetermineEncoding(data, ""); enc != nil {
		if s, ok := decodeClean(data, enc); ok {
			return s
		}
	}
	return string(data)
}

// decodeClean fails when the decoder had to substitute U+FFFD.
func decodeClean(data []byte, enc encoding.Encoding) (string, bool) {
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}
