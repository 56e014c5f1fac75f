package ill

import (
	"context"
	"fmt"
	"strconv"

	"github.com/yourusername/open-ill-broker/pkg/search"
)

// migrate moves a request to a freshly searched record on this backend.
// The immigrate step creates the replacement; emigrate revokes the
// original. The original is never deleted.
func (b *Broker) migrate(ctx context.Context, p Params) (Envelope, error) {
	switch p.Step {
	case "", StepImmigrate:
		switch p.Stage {
		case "", StageInit:
			return b.immigrateSearch(ctx, p)
		case StageSearchResults:
			return b.immigrateCommit(ctx, p)
		}
	case StepEmigrate:
		return b.emigrate(ctx, p)
	}
	return unknownStage(OpMigrate, p.Stage), nil
}

// seedQuery builds the search from the original's allow-listed
// attributes only.
func seedQuery(attrs Attributes) search.Query {
	seed := make(map[AttrKey]string, len(migrationKeys))
	for _, k := range migrationKeys {
		if v, found := attrs.Get(k); found {
			seed[k] = v
		}
	}
	return search.Query{
		Title:  seed[AttrTitle],
		Author: seed[AttrAuthor],
		ISBN:   seed[AttrISBN],
		ISSN:   seed[AttrISSN],
	}
}

func migratable(status string) bool {
	return status == StatusNew || status == StatusReq
}

func (b *Broker) immigrateSearch(ctx context.Context, p Params) (Envelope, error) {
	req, attrs, e, err := b.loadRequest(ctx, OpMigrate, StageInit, p.RequestID)
	if e != nil || err != nil {
		return deref(e), err
	}
	if !migratable(req.Status) {
		return fail(OpMigrate, StageInit, CodeInvalidStatus, "Request %d cannot be migrated from status %s", req.ID, req.Status), nil
	}

	q := p.Query
	if q.IsEmpty() {
		q = seedQuery(attrs)
	}
	resp, e, err := b.runSearch(ctx, OpMigrate, StageInit, p, q)
	if e != nil || err != nil {
		return deref(e), err
	}
	return ok(OpMigrate, StageSearchResults, SearchResultsValue{
		RequestID:  req.ID,
		BorrowerID: req.BorrowerID,
		Branch:     req.BranchCode,
		Query:      q,
		Search:     resp,
	}), nil
}

func (b *Broker) immigrateCommit(ctx context.Context, p Params) (Envelope, error) {
	orig, _, e, err := b.loadRequest(ctx, OpMigrate, StageSearchResults, p.RequestID)
	if e != nil || err != nil {
		return deref(e), err
	}
	if !migratable(orig.Status) {
		return fail(OpMigrate, StageSearchResults, CodeInvalidStatus, "Request %d cannot be migrated from status %s", orig.ID, orig.Status), nil
	}

	res, e, err := b.importChoice(ctx, OpMigrate, StageSearchResults, p)
	if e != nil || err != nil {
		return deref(e), err
	}
	req, attrs, err := b.newRequest(ctx, orig.BorrowerID, orig.BranchCode, res, p.StagingRef,
		map[AttrKey]string{AttrMigratedFrom: strconv.FormatInt(orig.ID, 10)})
	if err != nil {
		return Envelope{}, err
	}

	orig.Status = StatusMig
	if err := b.store.UpdateRequest(ctx, orig); err != nil {
		return Envelope{}, fmt.Errorf("marking request %d as migrating: %w", orig.ID, err)
	}
	b.reindex(ctx, req, attrs)

	return commit(OpMigrate, NextEmigrate, CommitValue{
		RequestID:         req.ID,
		BiblioID:          res.BiblioID,
		RemoteID:          res.RemoteID,
		OriginalRequestID: orig.ID,
	}), nil
}

// emigrate revokes the original request. No remote call is made.
func (b *Broker) emigrate(ctx context.Context, p Params) (Envelope, error) {
	orig, attrs, e, err := b.loadRequest(ctx, OpMigrate, StageCommit, p.RequestID)
	if e != nil || err != nil {
		return deref(e), err
	}
	if orig.Status != StatusMig {
		return fail(OpMigrate, StageCommit, CodeInvalidStatus, "Request %d is not being migrated (status %s)", orig.ID, orig.Status), nil
	}
	orig.Status = StatusReqRev
	orig.OrderID = nil
	if err := b.store.UpdateRequest(ctx, orig); err != nil {
		return Envelope{}, fmt.Errorf("revoking request %d: %w", orig.ID, err)
	}
	b.reindex(ctx, orig, attrs.Known)
	return commit(OpMigrate, NextView, CommitValue{RequestID: orig.ID}), nil
}
