package sip2

import (
	"fmt"
	"strings"
	"time"
)

// SIP2 Command Codes
const (
	CmdPatronStatusRequest  = "23"
	CmdPatronStatusResponse = "24"
	CmdLogin                = "93"
	CmdLoginResponse        = "94"
	CmdPatronInfo           = "63"
	CmdPatronInfoResponse   = "64"
	CmdSCStatus             = "99"
	CmdACSStatus            = "98"
	CmdRequestResend        = "96"
	CmdEndSession           = "35"
	CmdEndSessionResponse   = "36"
)

const terminator = '\r'

// Field is one variable-length field. Order matters on the wire, so
// messages carry a slice rather than a map.
type Field struct {
	Tag   string
	Value string
}

// Message represents a parsed SIP2 message
type Message struct {
	Command string
	Fixed   string            // fixed-width segment after the command
	Fields  map[string]string // variable fields (e.g. AO|...|)
	Raw     string
}

// ComputeChecksum returns the two's complement of the byte sum, as four
// upper-case hex digits.
func ComputeChecksum(data string) string {
	sum := 0
	for i := 0; i < len(data); i++ {
		sum += int(data[i])
	}
	return fmt.Sprintf("%04X", (-sum)&0xFFFF)
}

// VerifyChecksum checks the trailing four-digit checksum of raw, which must
// not include the terminator.
func VerifyChecksum(raw string) bool {
	if len(raw) < 4 {
		return false
	}
	return raw[len(raw)-4:] == ComputeChecksum(raw[:len(raw)-4])
}

// BuildMessage constructs a SIP2 message with sequence number and checksum.
// The checksum covers everything up to and including "AZ".
func BuildMessage(command, fixed string, seq int, fields ...Field) string {
	var sb strings.Builder
	sb.WriteString(command)
	sb.WriteString(fixed)
	for _, f := range fields {
		sb.WriteString(f.Tag)
		sb.WriteString(f.Value)
		sb.WriteString("|")
	}
	fmt.Fprintf(&sb, "AY%dAZ", seq%10)
	data := sb.String()
	return data + ComputeChecksum(data)
}

// GetFixedLength returns the length of the fixed data segment for a command
func GetFixedLength(cmd string) int {
	switch cmd {
	case CmdLoginResponse:
		return 1 // ok flag
	case CmdPatronInfoResponse:
		return 59 // status(14)+lang(3)+date(18)+counts(24)
	case CmdACSStatus:
		return 34 // flags(6)+timeout(3)+retries(3)+date(18)+version(4)
	default:
		return 0
	}
}

// Parse splits a raw SIP2 message into command, fixed segment and fields.
func Parse(raw string) (*Message, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if len(raw) < 2 {
		return nil, fmt.Errorf("message too short")
	}

	cmd := raw[:2]
	body := raw[2:]
	msg := &Message{
		Command: cmd,
		Fields:  make(map[string]string),
		Raw:     raw,
	}

	fixedLen := GetFixedLength(cmd)
	if fixedLen > len(body) {
		return nil, fmt.Errorf("command %s: fixed segment needs %d bytes, got %d", cmd, fixedLen, len(body))
	}
	msg.Fixed = body[:fixedLen]
	body = body[fixedLen:]

	// AY and AZ trail the last pipe without separators.
	if i := strings.LastIndex(body, "|"); i >= 0 {
		body = body[:i]
	} else {
		body = ""
	}
	for _, part := range strings.Split(body, "|") {
		if len(part) >= 2 {
			msg.Fields[part[:2]] = part[2:]
		}
	}
	return msg, nil
}

// FormatDate returns SIP2 date format YYYYMMDDZZZZHHMMSS
func FormatDate(t time.Time) string {
	return t.Format("20060102    150405")
}

// ParseDate parses the 18-character SIP2 date format.
func ParseDate(s string) (time.Time, error) {
	if len(s) < 18 {
		return time.Time{}, fmt.Errorf("date too short")
	}
	return time.Parse("20060102    150405", s[:18])
}
