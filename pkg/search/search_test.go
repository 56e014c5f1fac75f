package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/transport"
	"github.com/yourusername/open-ill-broker/pkg/z3950"
	"github.com/yourusername/open-ill-broker/pkg/z3950/pool"
)

func marcxml(title, author, isbn, remoteID string) string {
	return fmt.Sprintf(`<record xmlns="http://www.loc.gov/MARC21/slim">
  <leader>00000nam a2200000 a 4500</leader>
  <controlfield tag="001">%s</controlfield>
  <datafield tag="020" ind1=" " ind2=" "><subfield code="a">%s</subfield></datafield>
  <datafield tag="100" ind1="1" ind2=" "><subfield code="a">%s</subfield></datafield>
  <datafield tag="245" ind1="1" ind2="0"><subfield code="a">%s</subfield></datafield>
  <datafield tag="999" ind1=" " ind2=" "><subfield code="c">%s</subfield></datafield>
</record>`, remoteID, isbn, author, title, remoteID)
}

func sruBody(records ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<zs:searchRetrieveResponse xmlns:zs="http://www.loc.gov/zing/srw/">
<zs:version>1.2</zs:version>`)
	fmt.Fprintf(&b, "<zs:numberOfRecords>%d</zs:numberOfRecords><zs:records>", len(records))
	for i, r := range records {
		fmt.Fprintf(&b, `<zs:record><zs:recordSchema>marcxml</zs:recordSchema><zs:recordData>%s</zs:recordData><zs:recordPosition>%d</zs:recordPosition></zs:record>`, r, i+1)
	}
	b.WriteString("</zs:records></zs:searchRetrieveResponse>")
	return b.String()
}

func newTable(t *testing.T, targets ...config.Target) *config.TargetTable {
	t.Helper()
	table, err := config.NewTargetTable(targets)
	if err != nil {
		t.Fatalf("NewTargetTable: %v", err)
	}
	return table
}

func TestSearchKeepsHealthyTargetsWhenOneTimesOut(t *testing.T) {
	alpha := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("operation"); got != "searchRetrieve" {
			t.Errorf("operation = %q", got)
		}
		fmt.Fprint(w, sruBody(
			marcxml("Koha for librarians", "Smith, Jane", "9780000000001", "11"),
			marcxml("Koha administration", "Doe, John", "9780000000002", "12"),
		))
	}))
	defer alpha.Close()

	release := make(chan struct{})
	bravo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer bravo.Close()
	defer close(release)

	charlie := BackendFunc(func(ctx context.Context, tg config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error) {
		rec, err := z3950.ParseMARCXML([]byte(marcxml("Koha in practice", "Roe, Ann", "9780000000003", "31")))
		if err != nil {
			return nil, err
		}
		return []*z3950.MARCRecord{rec}, nil
	})

	table := newTable(t,
		config.Target{Name: "Charlie", Protocol: config.ProtocolZ3950, Host: "charlie.example", Port: 210, Database: "biblios"},
		config.Target{Name: "Alpha", Protocol: config.ProtocolSRU, SearchURL: alpha.URL},
		config.Target{Name: "Bravo", Protocol: config.ProtocolSRU, SearchURL: bravo.URL},
	)
	store := provider.NewMemoryProvider()
	s := New(table, store,
		WithBackend(config.ProtocolSRU, NewSRU(transport.New())),
		WithBackend(config.ProtocolZ3950, charlie),
		WithTimeout(200*time.Millisecond),
	)

	resp, err := s.Search(context.Background(), Query{Keyword: "koha"}, nil, Paging{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	var targets []string
	for _, r := range resp.Results {
		targets = append(targets, r.Target)
	}
	if got, want := strings.Join(targets, ","), "Alpha,Alpha,Charlie"; got != want {
		t.Errorf("result targets = %s, want %s", got, want)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %+v", resp.Errors)
	}
	if resp.Errors[0].Target != "Bravo" || resp.Errors[0].Kind != KindTimeout {
		t.Errorf("unexpected error entry %+v", resp.Errors[0])
	}

	first := resp.Results[0]
	if first.Title != "Koha for librarians" || first.RemoteID != "11" || first.ISBN != "9780000000001" {
		t.Errorf("unexpected first result %+v", first)
	}
	staged, err := store.GetStagedRecord(context.Background(), first.StagingRef)
	if err != nil {
		t.Fatalf("staged record missing: %v", err)
	}
	if staged.BatchID != resp.BatchID || staged.Target != "Alpha" {
		t.Errorf("staged record %+v not tied to batch %s", staged, resp.BatchID)
	}
}

func TestSRUErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/diag":
			fmt.Fprint(w, `<searchRetrieveResponse><numberOfRecords>0</numberOfRecords>
<diagnostics><diagnostic><uri>info:srw/diagnostic/1/10</uri><message>Query syntax error</message></diagnostic></diagnostics>
</searchRetrieveResponse>`)
		case "/mixed":
			fmt.Fprint(w, sruBody(
				marcxml("Good record", "A", "1", "1"),
				`<record><leader>short</leader></record>`,
			))
		case "/garbage":
			fmt.Fprint(w, "<html><body>not sru")
		case "/empty":
			fmt.Fprint(w, sruBody())
		case "/down":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedURL := "http://" + ln.Addr().String() + "/"
	ln.Close()

	tests := []struct {
		name     string
		url      string
		wantKind ErrorKind
		wantRecs int
	}{
		{"diagnostic", srv.URL + "/diag", KindOther, 0},
		{"one bad record", srv.URL + "/mixed", KindTransformError, 1},
		{"malformed body", srv.URL + "/garbage", KindTransformError, 0},
		{"empty is not an error", srv.URL + "/empty", "", 0},
		{"http status", srv.URL + "/down", KindOther, 0},
		{"connection refused", closedURL, KindConnectionFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newTable(t, config.Target{Name: "T", Protocol: config.ProtocolSRU, SearchURL: tt.url})
			s := New(table, provider.NewMemoryProvider(), WithBackend(config.ProtocolSRU, NewSRU(transport.New())))
			resp, err := s.Search(context.Background(), Query{Title: "x"}, nil, Paging{})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(resp.Results) != tt.wantRecs {
				t.Errorf("got %d results, want %d", len(resp.Results), tt.wantRecs)
			}
			if tt.wantKind == "" {
				if len(resp.Errors) != 0 {
					t.Errorf("expected no errors, got %+v", resp.Errors)
				}
				return
			}
			if len(resp.Errors) != 1 || resp.Errors[0].Kind != tt.wantKind {
				t.Errorf("errors = %+v, want one %s", resp.Errors, tt.wantKind)
			}
		})
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	s := New(newTable(t), provider.NewMemoryProvider())
	_, err := s.Search(context.Background(), Query{Title: "  ", ISBN: "--"}, nil, Paging{})
	if !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSearchUnknownTargetIsReported(t *testing.T) {
	s := New(newTable(t), provider.NewMemoryProvider())
	resp, err := s.Search(context.Background(), Query{Title: "x"}, []string{"Nowhere"}, Paging{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Target != "Nowhere" || resp.Errors[0].Kind != KindOther {
		t.Errorf("unexpected errors %+v", resp.Errors)
	}
}

func TestSearchPassesPagingToBackend(t *testing.T) {
	var got Paging
	b := BackendFunc(func(ctx context.Context, tg config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error) {
		got = p
		return nil, nil
	})
	table := newTable(t, config.Target{Name: "T", Protocol: config.ProtocolSRU, SearchURL: "http://sru.example/"})
	s := New(table, provider.NewMemoryProvider(), WithBackend(config.ProtocolSRU, b), WithPageSize(20))
	resp, err := s.Search(context.Background(), Query{Author: "Herbert"}, nil, Paging{Start: 41})
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != 41 || got.PageSize != 20 {
		t.Errorf("backend saw paging %+v", got)
	}
	if !resp.Paging.HasPrevious || resp.Paging.PreviousStart != 21 || resp.Paging.HasNext {
		t.Errorf("unexpected page info %+v", resp.Paging)
	}
}

func TestZ3950ConnectionFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	table := newTable(t, config.Target{Name: "Z", Protocol: config.ProtocolZ3950, Host: "127.0.0.1", Port: port, Database: "Default"})
	s := New(table, provider.NewMemoryProvider(), WithBackend(config.ProtocolZ3950, NewZ3950(pool.NewPool(pool.DefaultConfig))))
	resp, err := s.Search(context.Background(), Query{ISBN: "978-0-441-01359-3"}, nil, Paging{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Kind != KindConnectionFailed {
		t.Errorf("unexpected errors %+v", resp.Errors)
	}
}

func TestPageInfo(t *testing.T) {
	tests := []struct {
		name      string
		paging    Paging
		perTarget []int
		wantNext  bool
		wantPrev  bool
	}{
		{"first page full", Paging{Start: 1, PageSize: 10}, []int{10, 3}, true, false},
		{"first page short", Paging{Start: 1, PageSize: 10}, []int{4, 0}, false, false},
		{"second page", Paging{Start: 11, PageSize: 10}, []int{10}, true, true},
		{"past the end", Paging{Start: 21, PageSize: 10}, []int{0}, false, true},
		{"exact fit still claims more", Paging{Start: 1, PageSize: 5}, []int{5}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := 0
			for _, n := range tt.perTarget {
				total += n
			}
			info := pageInfo(tt.paging, tt.perTarget, total)
			if info.HasNext != tt.wantNext || info.HasPrevious != tt.wantPrev {
				t.Errorf("got next=%v prev=%v, want next=%v prev=%v", info.HasNext, info.HasPrevious, tt.wantNext, tt.wantPrev)
			}
			if info.Returned != total {
				t.Errorf("returned = %d, want %d", info.Returned, total)
			}
		})
	}
}

func TestQueryRendering(t *testing.T) {
	q := Query{Title: `The "Go" book`, ISBN: "ISBN: 978-0-13-419044-0"}.normalize()
	if got, want := q.CQL(), `dc.title="The \"Go\" book" and bath.isbn="9780134190440"`; got != want {
		t.Errorf("CQL = %s, want %s", got, want)
	}
	root, ok := q.Structured().Root.(z3950.QueryComplex)
	if !ok || root.Operator != "AND" {
		t.Fatalf("expected AND root, got %#v", q.Structured().Root)
	}
	if right := root.Right.(z3950.QueryClause); right.Attribute != z3950.UseAttributeISBN {
		t.Errorf("right clause attribute = %d", right.Attribute)
	}
}
