package ill

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/yourusername/open-ill-broker/pkg/borrower"
	"github.com/yourusername/open-ill-broker/pkg/provider"
)

func (b *Broker) create(ctx context.Context, p Params) (Envelope, error) {
	switch p.Stage {
	case "", StageInit:
		return ok(OpCreate, StageSearchForm, SearchFormValue{Targets: b.targets.Names(), Branch: p.Branch}), nil
	case StageSearchForm, StageBorrowers:
		return b.createSearch(ctx, p)
	case StageSearchResults:
		return b.createCommit(ctx, p)
	default:
		return unknownStage(OpCreate, p.Stage), nil
	}
}

// createSearch validates branch and borrower, then searches the partners.
// Ambiguous borrowers go back to the operator as a candidate list.
func (b *Broker) createSearch(ctx context.Context, p Params) (Envelope, error) {
	if e, err := b.checkBranch(ctx, OpCreate, StageSearchForm, p.Branch); e != nil || err != nil {
		return deref(e), err
	}

	identifier, mode := p.Borrower, borrower.ModeCardNumber
	if p.BorrowerID != 0 {
		identifier, mode = strconv.FormatInt(p.BorrowerID, 10), borrower.ModeContinuation
	}
	res, err := b.resolver.Resolve(ctx, identifier, mode)
	if err != nil {
		return Envelope{}, fmt.Errorf("resolving borrower: %w", err)
	}
	switch {
	case res.Count == 0:
		return fail(OpCreate, StageSearchForm, CodeInvalidBorrower, "No patron matches %q", identifier), nil
	case res.Count > 1:
		return ok(OpCreate, StageBorrowers, BorrowersValue{
			Candidates: candidates(res.Candidates),
			Branch:     p.Branch,
			Query:      p.Query,
			Targets:    p.Targets,
		}), nil
	}

	resp, e, err := b.runSearch(ctx, OpCreate, StageSearchForm, p, p.Query)
	if e != nil || err != nil {
		return deref(e), err
	}
	return ok(OpCreate, StageSearchResults, SearchResultsValue{
		BorrowerID: res.Patron.ID,
		Branch:     p.Branch,
		Query:      p.Query,
		Search:     resp,
	}), nil
}

// createCommit imports the chosen record and persists the new request.
func (b *Broker) createCommit(ctx context.Context, p Params) (Envelope, error) {
	if e, err := b.checkBranch(ctx, OpCreate, StageSearchResults, p.Branch); e != nil || err != nil {
		return deref(e), err
	}
	if p.BorrowerID == 0 {
		return fail(OpCreate, StageSearchResults, CodeInvalidBorrower, "No patron selected"), nil
	}
	patron, err := b.store.FindPatronByID(ctx, p.BorrowerID)
	if errors.Is(err, provider.ErrNotFound) {
		return fail(OpCreate, StageSearchResults, CodeInvalidBorrower, "Patron %d does not exist", p.BorrowerID), nil
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("loading patron %d: %w", p.BorrowerID, err)
	}

	res, e, err := b.importChoice(ctx, OpCreate, StageSearchResults, p)
	if e != nil || err != nil {
		return deref(e), err
	}
	req, attrs, err := b.newRequest(ctx, patron.ID, p.Branch, res, p.StagingRef, nil)
	if err != nil {
		return Envelope{}, err
	}
	b.reindex(ctx, req, attrs)

	return commit(OpCreate, NextView, CommitValue{
		RequestID: req.ID,
		BiblioID:  res.BiblioID,
		RemoteID:  res.RemoteID,
	}), nil
}

func deref(e *Envelope) Envelope {
	if e == nil {
		return Envelope{}
	}
	return *e
}
