package ill

import (
	"context"
	"fmt"

	"github.com/yourusername/open-ill-broker/pkg/holds"
)

type ConfirmValue struct {
	RequestID      int64  `json:"request_id"`
	OrderID        string `json:"order_id"`
	RemotePatronID string `json:"remote_patron_id"`
	PickupLocation string `json:"pickup_location"`
}

type StatusValue struct {
	RequestID  int64             `json:"request_id"`
	Status     string            `json:"status"`
	Attributes map[string]string `json:"attributes"`
}

// confirm places the hold with the partner. Nothing is written unless the
// partner accepted it.
func (b *Broker) confirm(ctx context.Context, p Params) (Envelope, error) {
	req, attrs, e, err := b.loadRequest(ctx, OpConfirm, StageConfirm, p.RequestID)
	if e != nil || err != nil {
		return deref(e), err
	}

	name, _ := attrs.Get(AttrTarget)
	target, found := b.targets.Lookup(name)
	if !found {
		return fail(OpConfirm, StageConfirm, CodeUnknownTarget, "Request %d names unknown target %q", req.ID, name), nil
	}
	bibID, _ := attrs.Get(AttrBibID)
	if bibID == "" {
		return fail(OpConfirm, StageConfirm, CodeMissingBibID, "Request %d has no remote record id", req.ID), nil
	}

	hold, err := b.holds.PlaceHold(ctx, target, bibID)
	if err != nil {
		f, isFailure := holds.AsFailure(err)
		if !isFailure {
			return Envelope{}, fmt.Errorf("placing hold for request %d: %w", req.ID, err)
		}
		return holdFailure(f), nil
	}

	order, cost := bibID, "0"
	req.Status = StatusReq
	req.OrderID = &order
	req.Cost = &cost
	if err := b.store.UpdateRequest(ctx, req); err != nil {
		return Envelope{}, fmt.Errorf("updating request %d: %w", req.ID, err)
	}
	if err := b.store.UpdateAttribute(ctx, req.ID, string(AttrStatus), AttrStatusOnOrder); err != nil {
		return Envelope{}, fmt.Errorf("updating status of request %d: %w", req.ID, err)
	}
	attrs.Known[AttrStatus] = AttrStatusOnOrder

	b.notify(ctx, req, attrs, fmt.Sprintf("A hold has been placed with %s for pickup at %s.", target.Name, hold.PickupLocation))
	b.reindex(ctx, req, attrs.Known)

	return commit(OpConfirm, NextView, ConfirmValue{
		RequestID:      req.ID,
		OrderID:        order,
		RemotePatronID: hold.RemotePatronID,
		PickupLocation: hold.PickupLocation,
	}), nil
}

func holdFailure(f *holds.Failure) Envelope {
	code := CodeRemoteError
	if f.Kind == holds.FailureTransport {
		code = CodeTransportError
	}
	detail := f.Code
	if detail == "" {
		detail = string(f.Kind)
	}
	msg := fmt.Sprintf("%s failed on %s: %s", f.Stage, f.Target, detail)
	if f.StatusLine != "" {
		msg += " (" + f.StatusLine + ")"
	}
	return fail(OpConfirm, StageConfirm, code, "%s", msg)
}

func (b *Broker) renew(ctx context.Context, p Params) (Envelope, error) {
	req, attrs, e, err := b.loadRequest(ctx, OpRenew, StageRenew, p.RequestID)
	if e != nil || err != nil {
		return deref(e), err
	}
	current, found := attrs.Get(AttrStatus)
	if !found {
		return fail(OpRenew, StageRenew, CodeUnknownRequest, "Request %d has no recorded status", req.ID), nil
	}
	if !renewable(req.Status) {
		return fail(OpRenew, StageRenew, CodeNotRenewed, "Request %d cannot be renewed from status %s", req.ID, req.Status), nil
	}
	if current == AttrStatusOnOrder {
		return fail(OpRenew, StageRenew, CodeNotRenewed, "Request %d is still awaiting fulfillment", req.ID), nil
	}
	if err := b.store.UpdateAttribute(ctx, req.ID, string(AttrStatus), AttrStatusRenewed); err != nil {
		return Envelope{}, fmt.Errorf("updating status of request %d: %w", req.ID, err)
	}
	req.Status = StatusComplete
	if err := b.store.UpdateRequest(ctx, req); err != nil {
		return Envelope{}, fmt.Errorf("updating request %d: %w", req.ID, err)
	}
	attrs.Known[AttrStatus] = AttrStatusRenewed
	b.reindex(ctx, req, attrs.Known)
	return commit(OpRenew, NextView, CommitValue{RequestID: req.ID}), nil
}

// Only fulfilled loans renew; a renewed loan stays COMPLETE and may renew again.
func renewable(status string) bool {
	return status == StatusReq || status == StatusComplete
}

func (b *Broker) cancel(ctx context.Context, p Params) (Envelope, error) {
	req, attrs, e, err := b.loadRequest(ctx, OpCancel, StageCancel, p.RequestID)
	if e != nil || err != nil {
		return deref(e), err
	}
	if _, found := attrs.Get(AttrStatus); !found {
		return fail(OpCancel, StageCancel, CodeUnknownRequest, "Request %d has no recorded status", req.ID), nil
	}

	if err := b.store.UpdateAttribute(ctx, req.ID, string(AttrStatus), AttrStatusReverted); err != nil {
		return Envelope{}, fmt.Errorf("updating status of request %d: %w", req.ID, err)
	}
	req.Status = StatusReqRev
	req.Cost = nil
	req.OrderID = nil
	if err := b.store.UpdateRequest(ctx, req); err != nil {
		return Envelope{}, fmt.Errorf("updating request %d: %w", req.ID, err)
	}
	attrs.Known[AttrStatus] = AttrStatusReverted

	b.notify(ctx, req, attrs, "The request has been cancelled.")
	b.reindex(ctx, req, attrs.Known)

	return commit(OpCancel, NextView, CommitValue{RequestID: req.ID}), nil
}

func (b *Broker) status(ctx context.Context, p Params) (Envelope, error) {
	switch p.Stage {
	case "", StageInit:
		req, attrs, e, err := b.loadRequest(ctx, OpStatus, StageInit, p.RequestID)
		if e != nil || err != nil {
			return deref(e), err
		}
		if _, found := attrs.Get(AttrStatus); !found {
			return fail(OpStatus, StageInit, CodeUnknownRequest, "Request %d has no recorded status", req.ID), nil
		}
		return ok(OpStatus, StageStatus, StatusValue{
			RequestID:  req.ID,
			Status:     req.Status,
			Attributes: attrs.Flat(),
		}), nil
	case StageStatus:
		return commit(OpStatus, NextList, nil), nil
	default:
		return unknownStage(OpStatus, p.Stage), nil
	}
}
