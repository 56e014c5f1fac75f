// Package ill drives inter-library loan requests through their lifecycle:
// search and selection, hold placement with the partner, renewal,
// cancellation and migration between backends. Every call is one stage of
// a re-entrant state machine; the host carries stage and step between
// calls and the broker keeps no state of its own.
package ill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourusername/open-ill-broker/pkg/borrower"
	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/holds"
	"github.com/yourusername/open-ill-broker/pkg/importer"
	"github.com/yourusername/open-ill-broker/pkg/index"
	"github.com/yourusername/open-ill-broker/pkg/notify"
	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/search"
)

const DefaultBackendName = "ILSDI"

var tracer = otel.Tracer("github.com/yourusername/open-ill-broker/pkg/ill")

// Store is the slice of persistence the broker uses.
type Store interface {
	provider.RequestStore
	provider.AttributeStore
	GetBranch(ctx context.Context, code string) (*provider.Branch, error)
	FindPatronByID(ctx context.Context, id int64) (*provider.Patron, error)
}

type Resolver interface {
	Resolve(ctx context.Context, identifier string, mode borrower.Mode) (borrower.Resolution, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query, names []string, p search.Paging) (*search.Response, error)
}

type Importer interface {
	Import(ctx context.Context, stagingRef int64, framework string) (*importer.Result, error)
}

type HoldPlacer interface {
	PlaceHold(ctx context.Context, t config.Target, remoteBibID string) (*holds.HoldResult, error)
}

type Indexer interface {
	IndexRequest(id int64, doc index.RequestDocument) error
}

// Deps are the collaborators a Broker is built from. Notifier and Index
// are optional.
type Deps struct {
	Store    Store
	Targets  *config.TargetTable
	Resolver Resolver
	Searcher Searcher
	Importer Importer
	Holds    HoldPlacer
	Notifier notify.Notifier
	Index    Indexer

	// BackendName is recorded on every request this broker creates.
	BackendName string
	// Framework is passed to the importer when Params.Framework is empty.
	Framework string
}

// Handler is what the host talks to.
type Handler interface {
	Handle(ctx context.Context, p Params) (Envelope, error)
	Capabilities() []string
}

// Broker is safe for concurrent use as long as its collaborators are.
type Broker struct {
	store     Store
	targets   *config.TargetTable
	resolver  Resolver
	searcher  Searcher
	importer  Importer
	holds     HoldPlacer
	notifier  notify.Notifier
	index     Indexer
	backend   string
	framework string
}

func New(d Deps) *Broker {
	b := &Broker{
		store:     d.Store,
		targets:   d.Targets,
		resolver:  d.Resolver,
		searcher:  d.Searcher,
		importer:  d.Importer,
		holds:     d.Holds,
		notifier:  d.Notifier,
		index:     d.Index,
		backend:   d.BackendName,
		framework: d.Framework,
	}
	if b.backend == "" {
		b.backend = DefaultBackendName
	}
	return b
}

func (b *Broker) Capabilities() []string {
	return []string{OpCreate, OpConfirm, OpRenew, OpCancel, OpStatus, OpMigrate}
}

// Handle runs one stage of one operation. Predictable failures come back
// as an error Envelope with a nil error; a non-nil error means a store
// failure left the request in an unknown state.
func (b *Broker) Handle(ctx context.Context, p Params) (Envelope, error) {
	ctx, span := tracer.Start(ctx, "ill."+p.Operation, trace.WithAttributes(
		attribute.String("ill.operation", p.Operation),
		attribute.String("ill.stage", p.Stage),
		attribute.String("ill.step", p.Step),
		attribute.Int64("ill.request_id", p.RequestID),
	))
	defer span.End()

	var (
		env Envelope
		err error
	)
	switch p.Operation {
	case OpCreate:
		env, err = b.create(ctx, p)
	case OpConfirm:
		env, err = b.confirm(ctx, p)
	case OpRenew:
		env, err = b.renew(ctx, p)
	case OpCancel:
		env, err = b.cancel(ctx, p)
	case OpStatus:
		env, err = b.status(ctx, p)
	case OpMigrate:
		env, err = b.migrate(ctx, p)
	default:
		env = notImplemented(p)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("ill operation failed",
			"operation", p.Operation,
			"stage", p.Stage,
			"request_id", p.RequestID,
			"error", err,
		)
		return internal(p.Operation, p.Stage), err
	}
	if env.Error {
		span.SetAttributes(attribute.String("ill.status", env.Status))
	}
	return env, nil
}

func internal(op, stage string) Envelope {
	return fail(op, stage, CodeInternalError, "An internal error occurred; the request may need checking")
}

func notImplemented(p Params) Envelope {
	return fail(p.Operation, p.Stage, CodeNotImplemented, "%s is not implemented by this backend", p.Operation)
}

func unknownStage(op, stage string) Envelope {
	return fail(op, stage, CodeUnknownStage, "Unknown stage %q for %s", stage, op)
}

// NotImplementedBackend wraps a Broker for partners that do not support
// renewals. Renew always answers not_implemented, which is a permanent
// answer and not a fault.
type NotImplementedBackend struct {
	*Broker
}

func (n NotImplementedBackend) Handle(ctx context.Context, p Params) (Envelope, error) {
	if p.Operation == OpRenew {
		return notImplemented(p), nil
	}
	return n.Broker.Handle(ctx, p)
}

func (n NotImplementedBackend) Capabilities() []string {
	var out []string
	for _, c := range n.Broker.Capabilities() {
		if c != OpRenew {
			out = append(out, c)
		}
	}
	return out
}

// checkBranch returns a failure envelope when code is empty or unknown.
func (b *Broker) checkBranch(ctx context.Context, op, stage, code string) (*Envelope, error) {
	if strings.TrimSpace(code) == "" {
		e := fail(op, stage, CodeMissingBranch, "A pickup branch is required")
		return &e, nil
	}
	if _, err := b.store.GetBranch(ctx, code); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			e := fail(op, stage, CodeInvalidBranch, "Unknown branch %q", code)
			return &e, nil
		}
		return nil, fmt.Errorf("looking up branch %s: %w", code, err)
	}
	return nil, nil
}

// loadRequest fetches a request and its attributes. A missing request
// yields a failure envelope.
func (b *Broker) loadRequest(ctx context.Context, op, stage string, id int64) (*provider.ILLRequest, Attributes, *Envelope, error) {
	req, err := b.store.GetRequest(ctx, id)
	if errors.Is(err, provider.ErrNotFound) {
		e := fail(op, stage, CodeUnknownRequest, "Request %d does not exist", id)
		return nil, Attributes{}, &e, nil
	}
	if err != nil {
		return nil, Attributes{}, nil, fmt.Errorf("loading request %d: %w", id, err)
	}
	list, err := b.store.GetAttributes(ctx, id)
	if err != nil {
		return nil, Attributes{}, nil, fmt.Errorf("loading attributes of request %d: %w", id, err)
	}
	return req, attributesFrom(list), nil, nil
}

// runSearch resolves the paging window and fans the query out. An empty
// query comes back as a failure envelope.
func (b *Broker) runSearch(ctx context.Context, op, stage string, p Params, q search.Query) (*search.Response, *Envelope, error) {
	resp, err := b.searcher.Search(ctx, q, p.Targets, search.Paging{Start: p.Start, PageSize: p.PageSize})
	if errors.Is(err, search.ErrEmptyQuery) {
		e := fail(op, stage, CodeEmptyQuery, "Enter at least one search term")
		return nil, &e, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("searching: %w", err)
	}
	return resp, nil, nil
}

// importChoice imports the staged record the operator picked.
func (b *Broker) importChoice(ctx context.Context, op, stage string, p Params) (*importer.Result, *Envelope, error) {
	if p.StagingRef == 0 {
		e := fail(op, stage, CodeMissingRecord, "Select a record to request")
		return nil, &e, nil
	}
	framework := p.Framework
	if framework == "" {
		framework = b.framework
	}
	res, err := b.importer.Import(ctx, p.StagingRef, framework)
	if errors.Is(err, importer.ErrStagedRecordMissing) {
		e := fail(op, stage, CodeMissingRecord, "The selected record is no longer available; search again")
		return nil, &e, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("importing staged record %d: %w", p.StagingRef, err)
	}
	return res, nil, nil
}

// newRequest persists a request for an imported record.
func (b *Broker) newRequest(ctx context.Context, borrowerID int64, branch string, res *importer.Result, stagingRef int64, extra map[AttrKey]string) (*provider.ILLRequest, map[AttrKey]string, error) {
	biblio := res.BiblioID
	req := &provider.ILLRequest{
		BorrowerID: borrowerID,
		BranchCode: branch,
		Backend:    b.backend,
		Status:     StatusNew,
		BiblioID:   &biblio,
	}
	attrs := map[AttrKey]string{
		AttrBibID:      res.RemoteID,
		AttrTitle:      res.Title,
		AttrAuthor:     res.Author,
		AttrISBN:       res.ISBN,
		AttrISSN:       res.ISSN,
		AttrTarget:     res.Target,
		AttrStatus:     AttrStatusNew,
		AttrStagingRef: strconv.FormatInt(stagingRef, 10),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	if err := b.store.CreateRequest(ctx, req, attrList(attrs)); err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	return req, attrs, nil
}

func (b *Broker) reindex(ctx context.Context, req *provider.ILLRequest, attrs map[AttrKey]string) {
	if b.index == nil {
		return
	}
	doc := index.RequestDocument{
		ID:     strconv.FormatInt(req.ID, 10),
		Title:  attrs[AttrTitle],
		Author: attrs[AttrAuthor],
		ISBN:   attrs[AttrISBN],
		Target: attrs[AttrTarget],
		Status: req.Status,
		Branch: req.BranchCode,
	}
	if patron, err := b.store.FindPatronByID(ctx, req.BorrowerID); err == nil {
		doc.Borrower = strings.TrimSpace(patron.FirstName + " " + patron.Surname)
	}
	if err := b.index.IndexRequest(req.ID, doc); err != nil {
		slog.Warn("indexing request failed", "request_id", req.ID, "error", err)
	}
}

func (b *Broker) notify(ctx context.Context, req *provider.ILLRequest, attrs Attributes, message string) {
	if b.notifier == nil {
		return
	}
	n := notify.Notice{RequestID: req.ID, Status: req.Status, Message: message}
	n.Title, _ = attrs.Get(AttrTitle)
	if patron, err := b.store.FindPatronByID(ctx, req.BorrowerID); err == nil {
		n.To = patron.Email
		n.PatronName = strings.TrimSpace(patron.FirstName + " " + patron.Surname)
	}
	if err := b.notifier.StatusChanged(ctx, n); err != nil {
		slog.Warn("status notification failed", "request_id", req.ID, "error", err)
	}
}

func candidates(patrons []provider.Patron) []Candidate {
	out := make([]Candidate, 0, len(patrons))
	for _, p := range patrons {
		out = append(out, Candidate{ID: p.ID, CardNumber: p.CardNumber, Surname: p.Surname, FirstName: p.FirstName})
	}
	return out
}
