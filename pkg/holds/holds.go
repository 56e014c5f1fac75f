// Package holds places title-level holds on partner systems through their
// ILS-DI endpoint.
package holds

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/html/charset"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/transport"
)

var (
	// ErrTransport marks failures where the partner could not be reached or
	// answered with a non-2xx status.
	ErrTransport = errors.New("holds: transport failure")
	// ErrProtocol marks failures reported inside an otherwise successful
	// response.
	ErrProtocol = errors.New("holds: protocol failure")
)

type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StagePlaceHold    Stage = "place-hold"
)

type FailureKind string

const (
	FailureTransport    FailureKind = "transport"
	FailureProtocol     FailureKind = "protocol"
	FailureMissingField FailureKind = "missing-field"
)

const (
	CodeNoPatronID       = "NoPatronId"
	CodeNoPickupLocation = "NoPickupLocation"
	CodeMalformed        = "MalformedResponse"
	CodeNoEndpoint       = "NoHoldsEndpoint"
)

// Failure is what every unsuccessful call returns, marked with ErrTransport
// or ErrProtocol.
type Failure struct {
	Target     string
	Stage      Stage
	Kind       FailureKind
	Code       string
	StatusLine string
	Body       string
	Err        error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s on %s", f.Stage, f.Kind, f.Target)
	if f.Code != "" {
		fmt.Fprintf(&b, ": %s", f.Code)
	}
	if f.StatusLine != "" {
		fmt.Fprintf(&b, " (%s)", f.StatusLine)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts the Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

type HoldResult struct {
	RemotePatronID string `json:"remote_patron_id"`
	PickupLocation string `json:"pickup_location"`
	Title          string `json:"title,omitempty"`
}

// ilsdiResponse covers both AuthenticatePatron and HoldTitle answers; the
// root element name differs and is ignored.
type ilsdiResponse struct {
	Code           string `xml:"code"`
	Message        string `xml:"message"`
	ID             string `xml:"id"`
	PickupLocation string `xml:"pickup_location"`
	Title          string `xml:"title"`
}

type Client struct {
	http            *transport.Client
	username        string
	password        string
	requestLocation string
}

func New(http *transport.Client, cfg config.HoldsConfig) *Client {
	loc := cfg.RequestLocation
	if loc == "" {
		loc = "127.0.0.1"
	}
	return &Client{
		http:            http,
		username:        cfg.Username,
		password:        cfg.Password,
		requestLocation: loc,
	}
}

// PlaceHold authenticates the service account on t and places a hold on
// remoteBibID. Success requires a pickup location in the answer.
func (c *Client) PlaceHold(ctx context.Context, t config.Target, remoteBibID string) (*HoldResult, error) {
	patronID, err := c.Authenticate(ctx, t)
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, t, StagePlaceHold, url.Values{
		"service":          {"HoldTitle"},
		"patron_id":        {patronID},
		"bib_id":           {remoteBibID},
		"request_location": {c.requestLocation},
	})
	if err != nil {
		return nil, err
	}
	if resp.PickupLocation == "" {
		return nil, errors.Mark(&Failure{Target: t.Name, Stage: StagePlaceHold, Kind: FailureMissingField, Code: CodeNoPickupLocation}, ErrProtocol)
	}
	slog.Info("hold placed", "target", t.Name, "bib_id", remoteBibID, "pickup_location", resp.PickupLocation)
	return &HoldResult{RemotePatronID: patronID, PickupLocation: resp.PickupLocation, Title: resp.Title}, nil
}

// Authenticate resolves the service account to the partner's patron id.
// Per-target credentials win over the shared service account.
func (c *Client) Authenticate(ctx context.Context, t config.Target) (string, error) {
	user, pass := c.username, c.password
	if t.Username != "" {
		user, pass = t.Username, t.Password
	}
	resp, err := c.call(ctx, t, StageAuthenticate, url.Values{
		"service":  {"AuthenticatePatron"},
		"username": {user},
		"password": {pass},
	})
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.Mark(&Failure{Target: t.Name, Stage: StageAuthenticate, Kind: FailureMissingField, Code: CodeNoPatronID}, ErrProtocol)
	}
	return resp.ID, nil
}

func (c *Client) call(ctx context.Context, t config.Target, stage Stage, params url.Values) (*ilsdiResponse, error) {
	if t.HoldsURL == "" {
		return nil, errors.Mark(&Failure{Target: t.Name, Stage: stage, Kind: FailureTransport, Code: CodeNoEndpoint}, ErrTransport)
	}

	raw, err := c.http.Get(ctx, t.HoldsURL, params)
	if err != nil {
		f := &Failure{Target: t.Name, Stage: stage, Kind: FailureTransport, Err: err}
		var te *transport.Error
		if errors.As(err, &te) {
			f.StatusLine = te.StatusLine
			f.Body = te.Body
			f.Code = string(te.Kind)
		}
		slog.Error("ils-di call failed", "target", t.Name, "stage", stage, "error", err)
		return nil, errors.Mark(f, ErrTransport)
	}

	var resp ilsdiResponse
	dec := xml.NewDecoder(bytes.NewReader(raw.Body))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&resp); err != nil {
		return nil, errors.Mark(&Failure{
			Target: t.Name, Stage: stage, Kind: FailureProtocol, Code: CodeMalformed,
			StatusLine: raw.StatusLine, Err: err,
		}, ErrProtocol)
	}
	resp.Code = strings.TrimSpace(resp.Code)
	resp.ID = strings.TrimSpace(resp.ID)
	resp.PickupLocation = strings.TrimSpace(resp.PickupLocation)
	if resp.Code != "" {
		slog.Warn("ils-di reported an error", "target", t.Name, "stage", stage, "code", resp.Code)
		return nil, errors.Mark(&Failure{
			Target: t.Name, Stage: stage, Kind: FailureProtocol, Code: resp.Code,
			StatusLine: raw.StatusLine,
		}, ErrProtocol)
	}
	return &resp, nil
}
