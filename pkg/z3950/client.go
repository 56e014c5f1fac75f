package z3950

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	ber "github.com/go-asn1-ber/asn1-ber"
)

const (
	OID_Bib1    = "1.2.840.10003.3.1"
	OID_MARC21  = "1.2.840.10003.5.10" // MARC 21 (USMARC)
	OID_UNIMARC = "1.2.840.10003.5.1"  // UNIMARC
)

var (
	oidBib1Bytes    = []byte{0x2A, 0x86, 0x48, 0xCE, 0x13, 0x03, 0x01}
	oidMARC21Bytes  = []byte{0x2A, 0x86, 0x48, 0xCE, 0x13, 0x05, 0x0A}
	oidUNIMARCBytes = []byte{0x2A, 0x86, 0x48, 0xCE, 0x13, 0x05, 0x01}
)

// ErrNotConnected is returned when a PDU is sent before Connect.
var ErrNotConnected = errors.New("z39.50: not connected")

// RecordError reports records that a target delivered but that could not
// be decoded. Present returns it alongside the records that did decode.
type RecordError struct {
	Failed int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%d record(s) could not be decoded: %v", e.Failed, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

type Client struct {
	conn    net.Conn
	host    string
	port    int
	timeout time.Duration
}

func NewClient(host string, port int) *Client {
	return &Client{host: host, port: port, timeout: 10 * time.Second}
}

func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, fmt.Sprint(c.port))
}

func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() {
	if c.conn != nil {
		pdu := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagClose, nil, "Close")
		pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 211, 0, "Reason"))
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.Write(pdu.Bytes())
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) sendPDU(ctx context.Context, pdu *ber.Packet) (*ber.Packet, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	data := pdu.Bytes()
	slog.Debug("sending PDU", "host", c.host, "tag", pdu.Tag, "bytes", len(data))
	if _, err := c.conn.Write(data); err != nil {
		return nil, err
	}
	pkt, err := ber.ReadPacket(c.conn)
	if err != nil {
		return nil, err
	}

	if pkt.Tag == TagClose {
		reason := "unknown"
		if len(pkt.Children) > 0 && pkt.Children[0].Tag == 211 {
			reason = fmt.Sprintf("code %d", decodeInt(pkt.Children[0]))
		}
		return nil, fmt.Errorf("server closed connection: %s", reason)
	}
	return pkt, nil
}

func (c *Client) Init(ctx context.Context) error {
	pdu := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagInitializeRequest, nil, "InitializeRequest")

	// ProtocolVersion [3] IMPLICIT BIT STRING, v3 (bit 2) set.
	ver := ber.Encode(ber.ClassContext, ber.TypePrimitive, 3, nil, "ProtocolVersion")
	ver.Data.Write([]byte{0x00, 0x20})
	pdu.AppendChild(ver)

	// Options [4] IMPLICIT BIT STRING: search(0)|present(1)
	opts := ber.Encode(ber.ClassContext, ber.TypePrimitive, 4, nil, "Options")
	opts.Data.Write([]byte{0x00, 0xC0})
	pdu.AppendChild(opts)

	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 5, 65536, "PreferredMessageSize"))
	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 6, 65536, "MaximumRecordSize"))

	resp, err := c.sendPDU(ctx, pdu)
	if err != nil {
		return err
	}
	if resp.Tag != TagInitializeResponse {
		return fmt.Errorf("unexpected response tag: %d", resp.Tag)
	}

	accepted := false
	for _, child := range resp.Children {
		// Result is [12] IMPLICIT BOOLEAN, some servers send UNIVERSAL 1.
		if child.Tag == 12 || child.Tag == 1 {
			if v, ok := child.Value.(bool); ok {
				accepted = v
			} else if b := child.Data.Bytes(); len(b) > 0 && b[0] != 0 {
				accepted = true
			}
		}
	}
	if !accepted {
		return fmt.Errorf("server rejected connection (Init=False)")
	}
	return nil
}

// decodeInt manually decodes a BER integer from a packet's data
func decodeInt(p *ber.Packet) int64 {
	if v, ok := p.Value.(int64); ok {
		return v
	}
	var val int64
	for _, b := range p.Data.Bytes() {
		val = (val << 8) | int64(b)
	}
	return val
}

func buildOperand(clause QueryClause) *ber.Packet {
	op := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Operand")
	apt := ber.Encode(ber.ClassContext, ber.TypeConstructed, 102, nil, "AttributesPlusTerm")

	attrs := ber.Encode(ber.ClassContext, ber.TypeConstructed, 44, nil, "Attrs")
	attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attr")
	attr.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 120, 1, "Type"))
	attr.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 121, int64(clause.Attribute), "Value"))
	attrs.AppendChild(attr)
	apt.AppendChild(attrs)

	apt.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 45, clause.Term, "Term"))
	op.AppendChild(apt)
	return op
}

func buildRPN(node QueryNode) *ber.Packet {
	switch n := node.(type) {
	case QueryClause:
		return buildOperand(n)
	case QueryComplex:
		complex := ber.Encode(ber.ClassContext, ber.TypeConstructed, 1, nil, "Complex")
		complex.AppendChild(buildRPN(n.Left))
		complex.AppendChild(buildRPN(n.Right))

		opVal := 0 // AND
		switch n.Operator {
		case "OR":
			opVal = 1
		case "AND-NOT":
			opVal = 2
		}
		op := ber.Encode(ber.ClassContext, ber.TypeConstructed, 46, nil, "Operator")
		op.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, ber.Tag(opVal), 0, "OpCode"))
		complex.AppendChild(op)
		return complex
	}
	return nil
}

// StructuredSearch runs query against dbName and returns the hit count.
func (c *Client) StructuredSearch(ctx context.Context, dbName string, query StructuredQuery) (int, error) {
	pdu := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagSearchRequest, nil, "SearchRequest")
	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 13, 0, "SmallSetUpperBound"))
	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 14, 1, "LargeSetLowerBound"))
	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 15, 0, "MediumSetPresentNumber"))
	pdu.AppendChild(ber.NewBoolean(ber.ClassContext, ber.TypePrimitive, 16, true, "ReplaceIndicator"))
	pdu.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 17, "default", "ResultSetName"))

	dbs := ber.Encode(ber.ClassContext, ber.TypeConstructed, 18, nil, "DatabaseNames")
	dbs.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 105, dbName, "DatabaseName"))
	pdu.AppendChild(dbs)

	searchQuery := ber.Encode(ber.ClassContext, ber.TypeConstructed, 21, nil, "SearchQuery")
	rpnQuery := ber.Encode(ber.ClassContext, ber.TypeConstructed, 1, nil, "RPNQuery")

	attrSetId := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagObjectIdentifier, nil, "AttributeSetId")
	attrSetId.Data.Write(oidBib1Bytes)
	rpnQuery.AppendChild(attrSetId)

	rpn := buildRPN(query.Root)
	if rpn == nil {
		rpn = buildOperand(QueryClause{Attribute: UseAttributeAny, Term: " "})
	}
	rpnQuery.AppendChild(rpn)

	searchQuery.AppendChild(rpnQuery)
	pdu.AppendChild(searchQuery)

	resp, err := c.sendPDU(ctx, pdu)
	if err != nil {
		return 0, err
	}
	if resp.Tag != TagSearchResponse {
		return 0, fmt.Errorf("bad tag: %d", resp.Tag)
	}
	for _, child := range resp.Children {
		if child.Tag == 23 {
			return int(decodeInt(child)), nil
		}
	}
	return 0, nil
}

// Present fetches count records from the default result set starting at
// the 1-based position start. Records that fail to decode are skipped and
// reported through a *RecordError.
func (c *Client) Present(ctx context.Context, start, count int, syntaxOID string) ([]*MARCRecord, error) {
	pdu := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagPresentRequest, nil, "PresentRequest")
	pdu.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 31, "default", "ResultSetId"))
	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 30, int64(start), "ResultSetStartPoint"))
	pdu.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, 29, int64(count), "NumberOfRecordsRequested"))

	oid := oidMARC21Bytes
	if syntaxOID == OID_UNIMARC {
		oid = oidUNIMARCBytes
	}
	pdu.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 104, string(oid), "PreferredRecordSyntax"))

	resp, err := c.sendPDU(ctx, pdu)
	if err != nil {
		return nil, err
	}
	if resp.Tag != TagPresentResponse {
		return nil, fmt.Errorf("unexpected present response: %d", resp.Tag)
	}

	var (
		records []*MARCRecord
		failed  int
		lastErr error
	)
	for _, child := range resp.Children {
		if child.Tag != 28 {
			continue
		}
		for i, recSeq := range child.Children {
			octet := findOctetString(recSeq)
			if octet == nil {
				failed++
				lastErr = fmt.Errorf("record %d: no octet string", i)
				continue
			}
			marc, err := ParseMARC(octet)
			if err != nil {
				failed++
				lastErr = fmt.Errorf("record %d: %w", i, err)
				slog.Warn("ParseMARC failed", "host", c.host, "error", err)
				continue
			}
			records = append(records, marc)
		}
	}
	if failed > 0 {
		return records, &RecordError{Failed: failed, Err: lastErr}
	}
	return records, nil
}

func findOctetString(p *ber.Packet) []byte {
	if p.Tag == ber.TagOctetString && p.ClassType == ber.ClassUniversal {
		return p.Data.Bytes()
	}
	// EXTERNAL: encoding CHOICE { single-ASN1-type [0], octet-aligned [1], arbitrary [2] }
	if p.Tag == ber.TagExternal && p.ClassType == ber.ClassUniversal {
		for _, child := range p.Children {
			if child.ClassType == ber.ClassContext {
				if child.Tag == 1 {
					return child.Data.Bytes()
				}
				if child.Tag == 0 {
					return findOctetString(child)
				}
			}
		}
	}
	for _, child := range p.Children {
		if res := findOctetString(child); res != nil {
			return res
		}
	}
	return nil
}
