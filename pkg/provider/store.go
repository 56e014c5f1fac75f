package provider

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("already exists")
)

// ILLRequest is the persistent unit of work for an inter-library loan.
type ILLRequest struct {
	ID         int64     `json:"id"`
	BorrowerID int64     `json:"borrower_id"`
	BranchCode string    `json:"branch_code"`
	Backend    string    `json:"backend"`
	Status     string    `json:"status"`
	OrderID    *string   `json:"order_id"`
	Cost       *string   `json:"cost"`
	AccessURL  *string   `json:"access_url"`
	BiblioID   *int64    `json:"biblio_id"`
	PlacedAt   time.Time `json:"placed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Attribute is one key/value pair attached to a request. Keys are unique
// per request.
type Attribute struct {
	RequestID int64  `json:"request_id"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

type Patron struct {
	ID         int64  `json:"id"`
	CardNumber string `json:"card_number"`
	Surname    string `json:"surname"`
	FirstName  string `json:"firstname"`
	Email      string `json:"email,omitempty"`
	BranchCode string `json:"branch_code"`
}

type Branch struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// PatronField names a column that SearchPatrons can match on.
type PatronField string

const (
	PatronSurname   PatronField = "surname"
	PatronFirstName PatronField = "firstname"
)

// StagedRecord is a remote record held after a search until it is imported.
// Its ID is the staging (breeding) reference handed to the importer.
type StagedRecord struct {
	ID      int64  `json:"id"`
	BatchID string `json:"batch_id"`
	Target  string `json:"target"`
	// Encoding is the target's record syntax (MARC21, UNIMARC, CNMARC).
	Encoding string    `json:"encoding"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	ISBN     string    `json:"isbn"`
	Raw      []byte    `json:"-"`
	StagedAt time.Time `json:"staged_at"`
}

// CatalogRecord is a committed local bibliographic record.
type CatalogRecord struct {
	ID         int64     `json:"id"`
	Framework  string    `json:"framework"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	ISBN       string    `json:"isbn"`
	Suppressed bool      `json:"suppressed"`
	Raw        []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

type RequestFilter struct {
	Status     string
	BorrowerID int64
}

type RequestStore interface {
	// CreateRequest inserts req and its attributes atomically, filling in
	// ID and both timestamps.
	CreateRequest(ctx context.Context, req *ILLRequest, attrs []Attribute) error
	GetRequest(ctx context.Context, id int64) (*ILLRequest, error)
	// UpdateRequest persists every mutable column and bumps UpdatedAt.
	UpdateRequest(ctx context.Context, req *ILLRequest) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]ILLRequest, error)
}

type AttributeStore interface {
	GetAttributes(ctx context.Context, requestID int64) ([]Attribute, error)
	AddAttribute(ctx context.Context, requestID int64, typ, value string) error
	// UpdateAttribute replaces the value in place, inserting it if absent.
	UpdateAttribute(ctx context.Context, requestID int64, typ, value string) error
}

type Directory interface {
	FindPatronByCardNumber(ctx context.Context, card string) (*Patron, error)
	FindPatronByID(ctx context.Context, id int64) (*Patron, error)
	SearchPatrons(ctx context.Context, field PatronField, value string) ([]Patron, error)
	GetBranch(ctx context.Context, code string) (*Branch, error)
}

type StagingStore interface {
	StageRecord(ctx context.Context, rec *StagedRecord) (int64, error)
	GetStagedRecord(ctx context.Context, id int64) (*StagedRecord, error)
}

type CatalogStore interface {
	CommitRecord(ctx context.Context, rec *z3950.MARCRecord, framework string) (int64, error)
	GetRecord(ctx context.Context, id int64) (*CatalogRecord, error)
}

// Store is everything the broker persists or looks up locally.
type Store interface {
	RequestStore
	AttributeStore
	Directory
	StagingStore
	CatalogStore

	CreatePatron(ctx context.Context, p *Patron) error
	CreateBranch(ctx context.Context, b Branch) error
	Close() error
}

// suppressed reports whether the record carries the OPAC suppression flag.
func suppressed(rec *z3950.MARCRecord) bool {
	return rec.Subfield("942", "n") == "1"
}
