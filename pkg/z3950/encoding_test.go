package z3950

import (
	"bytes"
	"io"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

func TestDecodeText(t *testing.T) {
	gbkStr := "这是一个测试句子，用于验证GBK编码的自动识别功能。"
	gbkBytes := encodeWith(t, gbkStr, simplifiedchinese.GBK.NewEncoder())

	testCases := []struct {
		name string
		in   []byte
		want string
	}{
		{"Empty", nil, ""},
		{"ASCII", []byte("abc"), "abc"},
		{"UTF-8", []byte("Hello, 世界"), "Hello, 世界"},
		{"GBK", gbkBytes, gbkStr},
		{"Latin-1", []byte{'c', 'a', 'f', 0xe9}, "café"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecodeText(tc.in); got != tc.want {
				t.Errorf("DecodeText() = %q, want %q (bytes %x)", got, tc.want, tc.in)
			}
		})
	}
}

func TestParseMARCDecodesLegacySubfields(t *testing.T) {
	gbkTitle := encodeWith(t, "图书馆", simplifiedchinese.GBK.NewEncoder())
	legacy := &MARCRecord{Fields: []MARCField{
		{Tag: "001", Value: "42"},
		{Tag: "245", Indicators: "10", Subfields: []Subfield{{Code: "a", Value: string(gbkTitle)}}},
	}}
	data, err := legacy.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := ParseMARC(data)
	if err != nil {
		t.Fatalf("ParseMARC failed: %v", err)
	}
	if got := parsed.Subfield("245", "a"); got != "图书馆" {
		t.Errorf("245$a = %q, want 图书馆", got)
	}
}

func encodeWith(t *testing.T, s string, enc transform.Transformer) []byte {
	t.Helper()
	b, err := io.ReadAll(transform.NewReader(bytes.NewReader([]byte(s)), enc))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return b
}
