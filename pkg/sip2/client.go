package sip2

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

type Client struct {
	Host     string
	Port     int
	Location string // AO/CP
	User     string // CN (SIP2 login user, not a patron)
	Pass     string // CO

	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	seq     int
}

func NewClient(host string, port int) *Client {
	return &Client{
		Host:    host,
		Port:    port,
		timeout: 10 * time.Second,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.Host, fmt.Sprint(c.Port)))
	if err != nil {
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Send writes one message and reads the reply, verifying its checksum.
func (c *Client) Send(ctx context.Context, cmd, fixed string, fields ...Field) (*Message, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("sip2: not connected")
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	msg := BuildMessage(cmd, fixed, c.seq, fields...)
	c.seq++
	if _, err := c.conn.Write([]byte(msg + string(terminator))); err != nil {
		return nil, err
	}

	resp, err := c.reader.ReadString(terminator)
	if err != nil {
		return nil, err
	}
	resp = strings.TrimRight(resp, "\r\n")
	if !VerifyChecksum(resp) {
		return nil, fmt.Errorf("sip2: checksum mismatch in %q", resp)
	}
	return Parse(resp)
}

func (c *Client) Login(ctx context.Context) (bool, error) {
	resp, err := c.Send(ctx, CmdLogin, "00",
		Field{"CN", c.User},
		Field{"CO", c.Pass},
		Field{"CP", c.Location},
	)
	if err != nil {
		return false, err
	}
	if resp.Command != CmdLoginResponse {
		return false, fmt.Errorf("sip2: unexpected login response %q", resp.Raw)
	}
	return resp.Fixed == "1", nil
}

// PatronInfo is the part of a 64 response the broker cares about.
type PatronInfo struct {
	CardNumber string
	Name       string
	Status     string // 14 patron-status flags, 'Y' meaning restricted
	Valid      bool
	Fields     map[string]string
}

func (c *Client) PatronInformation(ctx context.Context, card, password string) (*PatronInfo, error) {
	fixed := "001" + FormatDate(time.Now()) + "          "
	fields := []Field{{"AO", c.Location}, {"AA", card}}
	if password != "" {
		fields = append(fields, Field{"AD", password})
	}
	resp, err := c.Send(ctx, CmdPatronInfo, fixed, fields...)
	if err != nil {
		return nil, err
	}
	if resp.Command != CmdPatronInfoResponse {
		return nil, fmt.Errorf("sip2: unexpected patron information response %q", resp.Raw)
	}

	info := &PatronInfo{
		CardNumber: resp.Fields["AA"],
		Name:       resp.Fields["AE"],
		Status:     resp.Fixed[:14],
		Fields:     resp.Fields,
	}
	// BL is optional; without it a returned name is taken as recognition.
	switch resp.Fields["BL"] {
	case "Y":
		info.Valid = true
	case "N":
		info.Valid = false
	default:
		info.Valid = info.Name != ""
	}
	return info, nil
}
