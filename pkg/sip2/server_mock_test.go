package sip2

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

type mockPatron struct {
	name  string
	valid bool
}

// mockServer is an in-process ACS answering login and patron information.
type mockServer struct {
	ln       net.Listener
	user     string
	patrons  map[string]mockPatron
	omitBL   bool
	badCheck bool
}

func newMockServer(t *testing.T, opts ...func(*mockServer)) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &mockServer{ln: ln, user: "sipuser", patrons: map[string]mockPatron{}}
	for _, opt := range opts {
		opt(s)
	}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *mockServer) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *mockServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *mockServer) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		req, err := Parse(line)
		if err != nil {
			return
		}

		var resp string
		switch req.Command {
		case CmdLogin:
			ok := "0"
			if strings.Contains(req.Raw, "CN"+s.user+"|") {
				ok = "1"
			}
			resp = BuildMessage(CmdLoginResponse, ok, 0)
		case CmdPatronInfo:
			card := req.Fields["AA"]
			p, known := s.patrons[card]
			fixed := strings.Repeat(" ", 14) + "001" + FormatDate(time.Now()) + strings.Repeat("0", 24)
			fields := []Field{{"AO", "ILL"}, {"AA", card}}
			if known {
				fields = append(fields, Field{"AE", p.name})
			}
			if !s.omitBL {
				bl := "N"
				if known && p.valid {
					bl = "Y"
				}
				fields = append(fields, Field{"BL", bl})
			}
			resp = BuildMessage(CmdPatronInfoResponse, fixed, 0, fields...)
		}
		if s.badCheck {
			resp = resp[:len(resp)-4] + "0000"
		}
		if resp != "" {
			conn.Write([]byte(resp + "\r"))
		}
	}
}
