// Package borrower resolves an operator-entered identifier to local
// patrons.
package borrower

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/yourusername/open-ill-broker/pkg/provider"
)

type Mode int

const (
	// ModeCardNumber matches the identifier against card numbers first.
	ModeCardNumber Mode = iota
	// ModeContinuation matches against internal patron ids, used once the
	// operator has picked a patron from a candidate list.
	ModeContinuation
)

// FallbackFields is the order in which patron fields are tried when the
// primary lookup finds nobody. Each step can widen the match (a bare
// surname may hit many patrons), so this list is policy and changes to it
// need review.
var FallbackFields = []provider.PatronField{provider.PatronSurname, provider.PatronFirstName}

type Directory interface {
	FindPatronByCardNumber(ctx context.Context, card string) (*provider.Patron, error)
	FindPatronByID(ctx context.Context, id int64) (*provider.Patron, error)
	SearchPatrons(ctx context.Context, field provider.PatronField, value string) ([]provider.Patron, error)
}

// Resolution is the outcome of Resolve. Patron is set only when Count is 1;
// Candidates holds every match when Count is greater than 1.
type Resolution struct {
	Count      int               `json:"count"`
	Patron     *provider.Patron  `json:"patron,omitempty"`
	Candidates []provider.Patron `json:"candidates,omitempty"`
}

type Resolver struct {
	dir      Directory
	fallback []provider.PatronField
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir, fallback: FallbackFields}
}

// Resolve never guesses: more than one match is returned as candidates for
// the caller to disambiguate. Errors are reserved for directory failures.
func (r *Resolver) Resolve(ctx context.Context, identifier string, mode Mode) (Resolution, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Resolution{}, nil
	}

	p, err := r.primary(ctx, identifier, mode)
	if err != nil {
		return Resolution{}, err
	}
	if p != nil {
		return Resolution{Count: 1, Patron: p}, nil
	}

	for _, field := range r.fallback {
		matches, err := r.dir.SearchPatrons(ctx, field, identifier)
		if err != nil {
			return Resolution{}, fmt.Errorf("searching patrons by %s: %w", field, err)
		}
		switch len(matches) {
		case 0:
			continue
		case 1:
			slog.Debug("borrower resolved by fallback", "field", field, "patron_id", matches[0].ID)
			return Resolution{Count: 1, Patron: &matches[0]}, nil
		default:
			return Resolution{Count: len(matches), Candidates: matches}, nil
		}
	}
	return Resolution{}, nil
}

func (r *Resolver) primary(ctx context.Context, identifier string, mode Mode) (*provider.Patron, error) {
	var (
		p   *provider.Patron
		err error
	)
	switch mode {
	case ModeContinuation:
		id, perr := strconv.ParseInt(identifier, 10, 64)
		if perr != nil {
			return nil, nil
		}
		p, err = r.dir.FindPatronByID(ctx, id)
	default:
		p, err = r.dir.FindPatronByCardNumber(ctx, identifier)
	}
	if errors.Is(err, provider.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up patron %q: %w", identifier, err)
	}
	return p, nil
}
