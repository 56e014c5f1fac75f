package sip2

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/provider"
)

// Verifier answers whether the ILS still recognises a card.
type Verifier interface {
	VerifyPatron(ctx context.Context, card string) (bool, error)
}

// SessionVerifier opens a short SIP2 session per lookup.
type SessionVerifier struct {
	cfg config.SIP2Config
}

func NewVerifier(cfg config.SIP2Config) *SessionVerifier {
	return &SessionVerifier{cfg: cfg}
}

func (v *SessionVerifier) VerifyPatron(ctx context.Context, card string) (bool, error) {
	c := NewClient(v.cfg.Host, v.cfg.Port)
	c.Location = v.cfg.Location
	c.User = v.cfg.User
	c.Pass = v.cfg.Pass

	if err := c.Connect(ctx); err != nil {
		return false, fmt.Errorf("sip2 connect: %w", err)
	}
	defer c.Close()

	if c.User != "" {
		ok, err := c.Login(ctx)
		if err != nil {
			return false, fmt.Errorf("sip2 login: %w", err)
		}
		if !ok {
			return false, fmt.Errorf("sip2 login rejected for %s", c.User)
		}
	}
	info, err := c.PatronInformation(ctx, card, "")
	if err != nil {
		return false, fmt.Errorf("sip2 patron information: %w", err)
	}
	return info.Valid, nil
}

// Directory cross-checks card-number matches from a local directory against
// the ILS. A card the ILS reports invalid is treated as unknown; an
// unreachable ILS leaves the local answer standing.
type Directory struct {
	provider.Directory
	verifier Verifier
}

func NewDirectory(local provider.Directory, v Verifier) *Directory {
	return &Directory{Directory: local, verifier: v}
}

func (d *Directory) FindPatronByCardNumber(ctx context.Context, card string) (*provider.Patron, error) {
	p, err := d.Directory.FindPatronByCardNumber(ctx, card)
	if err != nil {
		return nil, err
	}
	valid, err := d.verifier.VerifyPatron(ctx, card)
	if err != nil {
		slog.Warn("sip2 verification unavailable, using local record", "card", card, "error", err)
		return p, nil
	}
	if !valid {
		slog.Info("sip2 rejected card", "card", card, "patron_id", p.ID)
		return nil, fmt.Errorf("card %s rejected by ILS: %w", card, provider.ErrNotFound)
	}
	return p, nil
}
