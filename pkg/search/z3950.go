package search

import (
	"context"
	"errors"
	"strings"

	"github.com/yourusername/open-ill-broker/pkg/config"
	"github.com/yourusername/open-ill-broker/pkg/z3950"
	"github.com/yourusername/open-ill-broker/pkg/z3950/pool"
)

// Z3950 searches a target over Z39.50 using pooled, initialized sessions.
type Z3950 struct {
	pool *pool.Pool
}

func NewZ3950(p *pool.Pool) *Z3950 {
	return &Z3950{pool: p}
}

func (z *Z3950) Search(ctx context.Context, t config.Target, q Query, p Paging) ([]*z3950.MARCRecord, error) {
	cw, err := z.pool.Get(ctx, t.Host, t.Port, t.Database)
	if err != nil {
		return nil, err
	}

	hits, err := cw.Client.StructuredSearch(ctx, t.Database, q.Structured())
	if err != nil {
		z.pool.Discard(cw)
		return nil, err
	}
	if hits < p.Start {
		z.pool.Put(cw)
		return nil, nil
	}
	count := min(p.PageSize, hits-p.Start+1)

	syntax := z3950.OID_MARC21
	if strings.EqualFold(t.Encoding, "UNIMARC") || strings.EqualFold(t.Encoding, "CNMARC") {
		syntax = z3950.OID_UNIMARC
	}
	records, err := cw.Client.Present(ctx, p.Start, count, syntax)
	var recErr *z3950.RecordError
	if err != nil && !errors.As(err, &recErr) {
		z.pool.Discard(cw)
		return nil, err
	}
	z.pool.Put(cw)

	profile := z3950.ProfileFor(t.Encoding)
	for _, r := range records {
		r.PopulateWithProfile(profile)
	}
	if recErr != nil {
		return records, &TransformError{Failed: recErr.Failed, Err: recErr.Err}
	}
	return records, nil
}

// Ping opens (or reuses) an initialized session to the target.
func (z *Z3950) Ping(ctx context.Context, t config.Target) error {
	cw, err := z.pool.Get(ctx, t.Host, t.Port, t.Database)
	if err != nil {
		return err
	}
	z.pool.Put(cw)
	return nil
}
