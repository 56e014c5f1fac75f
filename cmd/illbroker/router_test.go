package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/ill"
)

const sruResponse = `<?xml version="1.0" encoding="UTF-8"?>
<zs:searchRetrieveResponse xmlns:zs="http://www.loc.gov/zing/srw/">
<zs:version>1.2</zs:version><zs:numberOfRecords>1</zs:numberOfRecords>
<zs:records><zs:record><zs:recordSchema>marcxml</zs:recordSchema><zs:recordData>
<record xmlns="http://www.loc.gov/MARC21/slim">
  <leader>00000nam a2200000 a 4500</leader>
  <controlfield tag="001">11</controlfield>
  <datafield tag="100" ind1="1" ind2=" "><subfield code="a">Smith, Jane</subfield></datafield>
  <datafield tag="245" ind1="1" ind2="0"><subfield code="a">Koha for librarians</subfield></datafield>
  <datafield tag="999" ind1=" " ind2=" "><subfield code="c">11</subfield></datafield>
</record>
</zs:recordData><zs:recordPosition>1</zs:recordPosition></zs:record></zs:records>
</zs:searchRetrieveResponse>`

func newTestApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sruResponse)
	}))
	t.Cleanup(partner.Close)

	v := viper.New()
	config.SetDefaults(v)
	v.Set("targets", []map[string]any{
		{"name": "Alpha", "protocol": "sru", "search_url": partner.URL + "/sru", "holds_url": partner.URL + "/ilsdi"},
		{"name": "Bravo", "protocol": "z3950", "host": "127.0.0.1", "port": 1, "database": "biblios"},
	})
	cfg, err := config.LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper: %v", err)
	}
	a, err := buildApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelopeResponse struct {
	Error  bool            `json:"error"`
	Status string          `json:"status"`
	Stage  string          `json:"stage"`
	Next   string          `json:"next"`
	Value  json.RawMessage `json:"value"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", w.Body.String(), err)
	}
	return v
}

func TestCreateOverHTTP(t *testing.T) {
	a := newTestApp(t)
	r := setupRouter(a)

	w := do(t, r, http.MethodPost, "/api/ill/create", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("init: %d %s", w.Code, w.Body.String())
	}
	if env := decode[envelopeResponse](t, w); env.Error || env.Stage != ill.StageSearchForm {
		t.Fatalf("init envelope = %+v", env)
	}

	w = do(t, r, http.MethodPost, "/api/ill/create", map[string]any{
		"stage":    ill.StageSearchForm,
		"borrower": "23529000035676",
		"branch":   "CPL",
		"query":    map[string]string{"keyword": "koha"},
		"targets":  []string{"Alpha"},
	})
	env := decode[envelopeResponse](t, w)
	if env.Error || env.Stage != ill.StageSearchResults {
		t.Fatalf("search_form envelope = %s", w.Body.String())
	}
	var results ill.SearchResultsValue
	if err := json.Unmarshal(env.Value, &results); err != nil {
		t.Fatal(err)
	}
	if len(results.Search.Results) != 1 {
		t.Fatalf("results = %+v", results.Search)
	}

	w = do(t, r, http.MethodPost, "/api/ill/create", map[string]any{
		"stage":       ill.StageSearchResults,
		"borrower_id": results.BorrowerID,
		"branch":      "CPL",
		"staging_ref": results.Search.Results[0].StagingRef,
	})
	env = decode[envelopeResponse](t, w)
	if env.Error || env.Stage != ill.StageCommit || env.Next != ill.NextView {
		t.Fatalf("commit envelope = %s", w.Body.String())
	}
	var committed ill.CommitValue
	if err := json.Unmarshal(env.Value, &committed); err != nil {
		t.Fatal(err)
	}

	w = do(t, r, http.MethodGet, fmt.Sprintf("/api/ill/%d", committed.RequestID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}
	got := decode[struct {
		Data struct {
			Status     string            `json:"status"`
			Attributes map[string]string `json:"attributes"`
		} `json:"data"`
	}](t, w)
	if got.Data.Status != ill.StatusNew || got.Data.Attributes["target"] != "Alpha" {
		t.Errorf("request view = %+v", got.Data)
	}

	for _, path := range []string{"/api/ill?q=librarians", "/api/ill?status=NEW", "/api/ill?borrower_id=1"} {
		w = do(t, r, http.MethodGet, path, nil)
		list := decode[struct {
			Data []struct {
				ID int64 `json:"id"`
			} `json:"data"`
		}](t, w)
		if len(list.Data) != 1 || list.Data[0].ID != committed.RequestID {
			t.Errorf("%s = %s", path, w.Body.String())
		}
	}
	w = do(t, r, http.MethodGet, "/api/ill?status=REQ", nil)
	if !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Errorf("status=REQ = %s", w.Body.String())
	}
}

func TestEnvelopeErrorsAreOK(t *testing.T) {
	r := setupRouter(newTestApp(t))
	w := do(t, r, http.MethodPost, "/api/ill/create", map[string]any{"stage": ill.StageSearchForm, "borrower": "23529000035676"})
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if env := decode[envelopeResponse](t, w); !env.Error || env.Status != ill.CodeMissingBranch {
		t.Errorf("envelope = %+v", env)
	}

	w = do(t, r, http.MethodPost, "/api/ill/checkin", nil)
	if env := decode[envelopeResponse](t, w); w.Code != http.StatusOK || env.Status != ill.CodeNotImplemented {
		t.Errorf("unknown operation: %d %s", w.Code, w.Body.String())
	}
}

func TestRouterErrors(t *testing.T) {
	r := setupRouter(newTestApp(t))
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad json", http.MethodPost, "/api/ill/create", "{not json", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/ill/abc", nil, http.StatusBadRequest},
		{"missing request", http.MethodGet, "/api/ill/999", nil, http.StatusNotFound},
		{"bad borrower filter", http.MethodGet, "/api/ill?borrower_id=x", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("code = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if e := decode[APIError](t, w); e.Status != "error" || e.Code != tt.want {
				t.Errorf("error body = %+v", e)
			}
		})
	}
}

func TestMetadataEndpoints(t *testing.T) {
	r := setupRouter(newTestApp(t))

	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "UP") {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}

	targets := decode[struct {
		Data []targetView `json:"data"`
	}](t, do(t, r, http.MethodGet, "/api/targets", nil))
	want := []targetView{{Name: "Alpha", Protocol: "sru", Holds: true}, {Name: "Bravo", Protocol: "z3950"}}
	if fmt.Sprint(targets.Data) != fmt.Sprint(want) {
		t.Errorf("targets = %+v", targets.Data)
	}
	if strings.Contains(do(t, r, http.MethodGet, "/api/targets", nil).Body.String(), "search_url") {
		t.Error("targets expose endpoints")
	}

	statuses := decode[struct {
		Data []ill.StatusInfo `json:"data"`
	}](t, do(t, r, http.MethodGet, "/api/statuses", nil))
	if len(statuses.Data) != len(ill.StatusGraph()) {
		t.Errorf("statuses = %+v", statuses.Data)
	}

	caps := decode[struct {
		Data []string `json:"data"`
	}](t, do(t, r, http.MethodGet, "/api/capabilities", nil))
	if len(caps.Data) != 6 {
		t.Errorf("capabilities = %v", caps.Data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{"debug": "DEBUG", "WARN": "WARN", "warning": "WARN", "error": "ERROR", "": "INFO", "chatty": "INFO"}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPingUnreachableZ3950(t *testing.T) {
	a := newTestApp(t)
	bravo, _ := a.targets.Lookup("Bravo")
	if err := a.ping(context.Background(), bravo); err == nil {
		t.Error("ping to closed port succeeded")
	}
}
