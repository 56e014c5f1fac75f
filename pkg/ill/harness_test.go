package ill

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/open-ill-broker/pkg/borrower"
	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/holds"
	"github.com/yourusername/open-ill-broker/pkg/importer"
	"github.com/yourusername/open-ill-broker/pkg/index"
	"github.com/yourusername/open-ill-broker/pkg/notify"
	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/search"
	"github.com/yourusername/open-ill-broker/pkg/transport"
)

const (
	edna       = "23529000035676" // Acosta, Edna (CPL)
	ednaID     = 1
	lorraineID = 3
)

const (
	authOK   = `<?xml version="1.0" encoding="UTF-8"?><AuthenticatePatron><id>419</id></AuthenticatePatron>`
	authFail = `<?xml version="1.0" encoding="UTF-8"?><AuthenticatePatron><code>PatronNotFound</code></AuthenticatePatron>`
	holdOK   = `<?xml version="1.0" encoding="UTF-8"?><HoldTitle><title>Koha for librarians</title><pickup_location>Centerville</pickup_location></HoldTitle>`
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

// partner serves both SRU search and ILS-DI for one target.
type partner struct {
	auth, hold string

	mu      sync.Mutex
	queries []string
}

func (p *partner) searched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func (p *partner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case strings.HasPrefix(r.URL.Path, "/sru"):
		p.mu.Lock()
		p.queries = append(p.queries, q.Get("query"))
		p.mu.Unlock()
		fmt.Fprint(w, sruBody(
			marcxml("Koha for librarians", "Smith, Jane", "9780000000001", "11"),
			marcxml("Koha administration", "Doe, John", "9780000000002", "12"),
		))
	case q.Get("service") == "AuthenticatePatron":
		fmt.Fprint(w, p.auth)
	case q.Get("service") == "HoldTitle":
		fmt.Fprint(w, p.hold)
	default:
		http.Error(w, "unknown service", http.StatusBadRequest)
	}
}

type recordingNotifier struct {
	notices []notify.Notice
	err     error
}

func (n *recordingNotifier) StatusChanged(ctx context.Context, notice notify.Notice) error {
	n.notices = append(n.notices, notice)
	return n.err
}

type fakeSearcher struct {
	SearchFunc func(ctx context.Context, q search.Query, names []string, p search.Paging) (*search.Response, error)
	calls      int
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query, names []string, p search.Paging) (*search.Response, error) {
	f.calls++
	if f.SearchFunc == nil {
		return &search.Response{Results: []search.Result{}, Errors: []search.TargetError{}}, nil
	}
	return f.SearchFunc(ctx, q, names, p)
}

type fakeHolds struct {
	PlaceHoldFunc func(ctx context.Context, t config.Target, remoteBibID string) (*holds.HoldResult, error)
}

func (f *fakeHolds) PlaceHold(ctx context.Context, t config.Target, remoteBibID string) (*holds.HoldResult, error) {
	return f.PlaceHoldFunc(ctx, t, remoteBibID)
}

type harness struct {
	store    *provider.MemoryProvider
	broker   *Broker
	partner  *partner
	notifier *recordingNotifier
	index    *index.Manager
}

// newHarness wires a Broker to real search, import and holds clients
// talking to one httptest partner named Alpha.
func newHarness(t *testing.T, p *partner) *harness {
	t.Helper()
	ctx := context.Background()

	store := provider.NewMemoryProvider()
	if err := provider.SeedDemo(ctx, store); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	targets, err := config.NewTargetTable([]config.Target{{
		Name:      "Alpha",
		Protocol:  config.ProtocolSRU,
		SearchURL: srv.URL + "/sru",
		HoldsURL:  srv.URL + "/cgi-bin/koha/ilsdi.pl",
	}})
	if err != nil {
		t.Fatalf("NewTargetTable: %v", err)
	}

	idx, err := index.NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	client := transport.New()
	notifier := &recordingNotifier{}
	b := New(Deps{
		Store:     store,
		Targets:   targets,
		Resolver:  borrower.NewResolver(store),
		Searcher:  search.New(targets, store, search.WithBackend(config.ProtocolSRU, search.NewSRU(client))),
		Importer:  importer.New(store, "FA"),
		Holds:     holds.New(client, config.HoldsConfig{Username: "ill", Password: "secret"}),
		Notifier:  notifier,
		Index:     idx,
		Framework: "FA",
	})
	return &harness{store: store, broker: b, partner: p, notifier: notifier, index: idx}
}

func (h *harness) handle(t *testing.T, p Params) Envelope {
	t.Helper()
	env, err := h.broker.Handle(context.Background(), p)
	if err != nil {
		t.Fatalf("Handle(%s/%s): %v", p.Operation, p.Stage, err)
	}
	return env
}

// createRequest runs create end to end for Edna and returns the new id.
func (h *harness) createRequest(t *testing.T) int64 {
	t.Helper()
	env := h.handle(t, Params{Operation: OpCreate, Stage: StageSearchForm, Borrower: edna, Branch: "CPL", Query: search.Query{Keyword: "koha"}})
	if env.Error || env.Stage != StageSearchResults {
		t.Fatalf("search_form = %+v", env)
	}
	results := env.Value.(SearchResultsValue)
	if len(results.Search.Results) == 0 {
		t.Fatal("no search results")
	}
	env = h.handle(t, Params{
		Operation:  OpCreate,
		Stage:      StageSearchResults,
		BorrowerID: results.BorrowerID,
		Branch:     results.Branch,
		StagingRef: results.Search.Results[0].StagingRef,
	})
	if env.Error || env.Stage != StageCommit {
		t.Fatalf("search_results = %+v", env)
	}
	return env.Value.(CommitValue).RequestID
}

func attrMap(t *testing.T, s provider.AttributeStore, id int64) map[string]string {
	t.Helper()
	list, err := s.GetAttributes(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAttributes(%d): %v", id, err)
	}
	out := make(map[string]string, len(list))
	for _, a := range list {
		out[a.Type] = a.Value
	}
	return out
}

// newFakeBroker builds a Broker over the seeded memory store with fake
// remote collaborators.
func newFakeBroker(t *testing.T, s *fakeSearcher, h *fakeHolds) (*Broker, *provider.MemoryProvider) {
	t.Helper()
	store := provider.NewMemoryProvider()
	if err := provider.SeedDemo(context.Background(), store); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	targets, err := config.NewTargetTable([]config.Target{{Name: "Alpha", Protocol: config.ProtocolSRU, SearchURL: "http://alpha.invalid/sru"}})
	if err != nil {
		t.Fatalf("NewTargetTable: %v", err)
	}
	if s == nil {
		s = &fakeSearcher{}
	}
	if h == nil {
		h = &fakeHolds{PlaceHoldFunc: func(ctx context.Context, t config.Target, bib string) (*holds.HoldResult, error) {
			return &holds.HoldResult{RemotePatronID: "419", PickupLocation: "Centerville"}, nil
		}}
	}
	b := New(Deps{
		Store:    store,
		Targets:  targets,
		Resolver: borrower.NewResolver(store),
		Searcher: s,
		Importer: importer.New(store, "FA"),
		Holds:    h,
	})
	return b, store
}

// seedRequest stores a request directly with the given attributes.
func seedRequest(t *testing.T, s provider.RequestStore, status string, attrs map[string]string) int64 {
	t.Helper()
	req := &provider.ILLRequest{BorrowerID: ednaID, BranchCode: "CPL", Backend: DefaultBackendName, Status: status}
	var list []provider.Attribute
	for k, v := range attrs {
		list = append(list, provider.Attribute{Type: k, Value: v})
	}
	if err := s.CreateRequest(context.Background(), req, list); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req.ID
}
