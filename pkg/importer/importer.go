// Package importer turns a staged remote record into a suppressed local
// catalog record.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

// ErrStagedRecordMissing is returned when the staging reference does not
// resolve. Imports are not retried.
var ErrStagedRecordMissing = errors.New("staged record not found")

const (
	remoteIDTag  = "999"
	remoteIDCode = "c"

	suppressTag  = "942"
	suppressCode = "n"
)

type Store interface {
	provider.StagingStore
	provider.CatalogStore
}

type Importer struct {
	store     Store
	framework string
}

func New(store Store, defaultFramework string) *Importer {
	return &Importer{store: store, framework: defaultFramework}
}

// Result identifies the committed local record and the partner's own id
// for it.
type Result struct {
	BiblioID int64  `json:"biblio_id"`
	RemoteID string `json:"remote_id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	ISSN     string `json:"issn"`
	Target   string `json:"target"`
}

// Import commits the staged record under framework (the default framework
// when empty). The partner's 999$c moves out of the record into the result.
func (im *Importer) Import(ctx context.Context, stagingRef int64, framework string) (*Result, error) {
	if framework == "" {
		framework = im.framework
	}
	staged, err := im.store.GetStagedRecord(ctx, stagingRef)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil, fmt.Errorf("staging ref %d: %w", stagingRef, ErrStagedRecordMissing)
		}
		return nil, fmt.Errorf("loading staged record %d: %w", stagingRef, err)
	}

	rec, err := z3950.ParseMARC(staged.Raw)
	if err != nil {
		return nil, fmt.Errorf("parsing staged record %d: %w", stagingRef, err)
	}
	rec.PopulateWithProfile(z3950.ProfileFor(staged.Encoding))
	rec.Title = fallback(rec.Title, staged.Title)
	rec.Author = fallback(rec.Author, staged.Author)
	rec.ISBN = fallback(rec.ISBN, staged.ISBN)

	remoteID := rec.Subfield(remoteIDTag, remoteIDCode)
	rec.RemoveFields(remoteIDTag)
	rec.SetSubfield(suppressTag, suppressCode, "1")

	biblio, err := im.store.CommitRecord(ctx, rec, framework)
	if err != nil {
		return nil, fmt.Errorf("committing staged record %d: %w", stagingRef, err)
	}
	slog.Info("imported staged record", "staging_ref", stagingRef, "biblio_id", biblio, "remote_id", remoteID, "target", staged.Target)

	return &Result{
		BiblioID: biblio,
		RemoteID: remoteID,
		Title:    rec.Title,
		Author:   rec.Author,
		ISBN:     rec.ISBN,
		ISSN:     rec.ISSN,
		Target:   staged.Target,
	}, nil
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
