// Package search fans a bibliographic query out to the configured partner
// targets and stages whatever they return for later import.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/transport"
	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

// ErrorKind classifies a per-target failure.
type ErrorKind string

const (
	KindConnectionFailed ErrorKind = "connection-failed"
	KindTimeout          ErrorKind = "timeout"
	KindTransformError   ErrorKind = "transform-error"
	KindOther            ErrorKind = "other"
)

// TransformError means the target answered but some or all of its records
// could not be turned into MARC. Records that did convert are still used.
type TransformError struct {
	Failed int
	Err    error
}

func (e *TransformError) Error() string {
	if e.Failed == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%d record(s) failed to convert: %v", e.Failed, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// DiagnosticError carries an SRU diagnostic returned instead of records.
type DiagnosticError struct {
	URI     string
	Message string
}

func (e *DiagnosticError) Error() string {
	return fmt.Sprintf("sru diagnostic %s: %s", e.URI, e.Message)
}

// Backend runs one query against one target.
type Backend interface {
	Search(ctx context.Context, t config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, t config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error)

func (f BackendFunc) Search(ctx context.Context, t config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error) {
	return f(ctx, t, q, p)
}

// Result is one staged record. StagingRef is what the importer takes.
type Result struct {
	Target     string `json:"target"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	ISBN       string `json:"isbn,omitempty"`
	ISSN       string `json:"issn,omitempty"`
	RemoteID   string `json:"remote_id,omitempty"`
	StagingRef int64  `json:"staging_ref"`
}

type TargetError struct {
	Target  string    `json:"target"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type Response struct {
	BatchID string        `json:"batch_id"`
	Results []Result      `json:"results"`
	Errors  []TargetError `json:"errors"`
	Paging  PageInfo      `json:"paging"`
}

// Searcher is safe for concurrent use.
type Searcher struct {
	targets     *config.TargetTable
	staging     provider.StagingStore
	backends    map[config.Protocol]Backend
	timeout     time.Duration
	maxParallel int
	pageSize    int
}

type Option func(*Searcher)

func WithBackend(p config.Protocol, b Backend) Option {
	return func(s *Searcher) { s.backends[p] = b }
}

// WithTimeout bounds each target's call independently.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithMaxParallel(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

func WithPageSize(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func New(targets *config.TargetTable, staging provider.StagingStore, opts ...Option) *Searcher {
	s := &Searcher{
		targets:     targets,
		staging:     staging,
		backends:    make(map[config.Protocol]Backend),
		timeout:     15 * time.Second,
		maxParallel: 8,
		pageSize:    10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type targetOutcome struct {
	target   string
	encoding string
	records  []*z3950.MARCRecord
	err      error
}

// Search queries the named targets (all targets when names is empty) and
// waits for every one of them. A failing target becomes an entry in
// Response.Errors; only an empty query or a staging failure is returned as
// an error.
func (s *Searcher) Search(ctx context.Context, q Query, names []string, p Paging) (*Response, error) {
	q = q.normalize()
	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}
	p = p.withDefaults(s.pageSize)

	if len(names) == 0 {
		names = s.targets.Names()
	} else {
		names = append([]string(nil), names...)
		sort.Strings(names)
	}

	start := time.Now()
	outcomes := make([]targetOutcome, len(names))
	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = s.searchTarget(ctx, name, q, p)
			return nil
		})
	}
	g.Wait()

	resp := &Response{BatchID: uuid.NewString(), Results: []Result{}, Errors: []TargetError{}}
	perTarget := make([]int, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			resp.Errors = append(resp.Errors, TargetError{
				Target:  o.target,
				Kind:    classify(o.err),
				Message: transport.Friendly(o.target, "search", o.err),
			})
		}
		perTarget = append(perTarget, len(o.records))
		for _, rec := range o.records {
			res, err := s.stage(ctx, resp.BatchID, o, rec)
			if err != nil {
				return nil, err
			}
			resp.Results = append(resp.Results, res)
		}
	}
	resp.Paging = pageInfo(p, perTarget, len(resp.Results))

	slog.Info("federated search completed",
		"targets", len(names),
		"total_found", len(resp.Results),
		"errors", len(resp.Errors),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (s *Searcher) searchTarget(ctx context.Context, name string, q Query, p Paging) targetOutcome {
	out := targetOutcome{target: name}
	t, ok := s.targets.Lookup(name)
	if !ok {
		out.err = fmt.Errorf("unknown target %q", name)
		return out
	}
	out.encoding = t.Encoding
	backend, ok := s.backends[t.Protocol]
	if !ok {
		out.err = fmt.Errorf("no backend for protocol %q", t.Protocol)
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out.records, out.err = backend.Search(ctx, t, q, p)
	if len(out.records) > p.PageSize {
		out.records = out.records[:p.PageSize]
	}
	return out
}

func (s *Searcher) stage(ctx context.Context, batch string, o targetOutcome, rec *z3950.MARCRecord) (Result, error) {
	target := o.target
	raw := rec.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = rec.Marshal(); err != nil {
			return Result{}, fmt.Errorf("encoding record from %s: %w", target, err)
		}
	}
	staged := &provider.StagedRecord{
		BatchID:  batch,
		Target:   target,
		Encoding: o.encoding,
		Title:    rec.Title,
		Author:   rec.Author,
		ISBN:     rec.ISBN,
		Raw:      raw,
	}
	id, err := s.staging.StageRecord(ctx, staged)
	if err != nil {
		return Result{}, fmt.Errorf("staging record from %s: %w", target, err)
	}
	return Result{
		Target:     target,
		Title:      rec.Title,
		Author:     rec.Author,
		ISBN:       rec.ISBN,
		ISSN:       rec.ISSN,
		RemoteID:   rec.Subfield("999", "c"),
		StagingRef: id,
	}, nil
}

func classify(err error) ErrorKind {
	var te *TransformError
	var re *z3950.RecordError
	if errors.As(err, &te) || errors.As(err, &re) {
		return KindTransformError
	}
	switch transport.Classify(err) {
	case transport.KindConnectionFailed:
		return KindConnectionFailed
	case transport.KindTimeout:
		return KindTimeout
	default:
		return KindOther
	}
}
