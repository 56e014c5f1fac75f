package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

type placeholder int

const (
	questionMark placeholder = iota
	dollar
)

// sqlStore is the database/sql implementation shared by the SQLite and
// Postgres providers. Queries are written with ? and rebound per dialect.
type sqlStore struct {
	db    *sql.DB
	style placeholder
	now   func() time.Time
}

func newSQLStore(db *sql.DB, style placeholder) *sqlStore {
	return &sqlStore{db: db, style: style, now: func() time.Time { return time.Now().UTC() }}
}

func (s *sqlStore) rebind(query string) string {
	if s.style == questionMark {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *sqlStore) CreateRequest(ctx context.Context, req *ILLRequest, attrs []Attribute) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.now()
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO ill_requests (borrower_id, branch_code, backend, status, order_id, cost, access_url, biblio_id, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		req.BorrowerID, req.BranchCode, req.Backend, req.Status,
		req.OrderID, req.Cost, req.AccessURL, req.BiblioID, now, now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	for _, a := range attrs {
		if _, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO ill_request_attributes (request_id, type, value) VALUES (?, ?, ?)`), id, a.Type, a.Value); err != nil {
			if isUniqueViolation(err) {
				err = fmt.Errorf("attribute %s: %w", a.Type, ErrConflict)
				return err
			}
			return fmt.Errorf("insert attribute %s: %w", a.Type, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	req.ID = id
	req.PlacedAt = now
	req.UpdatedAt = now
	return nil
}

const requestColumns = `id, borrower_id, branch_code, backend, status, order_id, cost, access_url, biblio_id, placed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*ILLRequest, error) {
	var r ILLRequest
	if err := row.Scan(&r.ID, &r.BorrowerID, &r.BranchCode, &r.Backend, &r.Status,
		&r.OrderID, &r.Cost, &r.AccessURL, &r.BiblioID, &r.PlacedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.PlacedAt = r.PlacedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s *sqlStore) GetRequest(ctx context.Context, id int64) (*ILLRequest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+requestColumns+` FROM ill_requests WHERE id = ?`), id)
	r, err := scanRequest(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("request %d", id))
	}
	return r, nil
}

func (s *sqlStore) UpdateRequest(ctx context.Context, req *ILLRequest) error {
	var placed time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT placed_at FROM ill_requests WHERE id = ?`), req.ID).Scan(&placed)
	if err != nil {
		return notFound(err, fmt.Sprintf("request %d", req.ID))
	}
	placed = placed.UTC()
	now := s.now()
	if now.Before(placed) {
		now = placed
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE ill_requests
		SET borrower_id = ?, branch_code = ?, backend = ?, status = ?, order_id = ?, cost = ?, access_url = ?, biblio_id = ?, updated_at = ?
		WHERE id = ?`),
		req.BorrowerID, req.BranchCode, req.Backend, req.Status,
		req.OrderID, req.Cost, req.AccessURL, req.BiblioID, now, req.ID,
	)
	if err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("request %d: %w", req.ID, ErrNotFound)
	}
	req.UpdatedAt = now
	return nil
}

func (s *sqlStore) ListRequests(ctx context.Context, filter RequestFilter) ([]ILLRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM ill_requests`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.BorrowerID != 0 {
		where = append(where, "borrower_id = ?")
		args = append(args, filter.BorrowerID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []ILLRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *sqlStore) requestExists(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM ill_requests WHERE id = ?`), id).Scan(&one)
	if err != nil {
		return notFound(err, fmt.Sprintf("request %d", id))
	}
	return nil
}

func (s *sqlStore) GetAttributes(ctx context.Context, requestID int64) ([]Attribute, error) {
	if err := s.requestExists(ctx, requestID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT request_id, type, value FROM ill_request_attributes WHERE request_id = ? ORDER BY type`), requestID)
	if err != nil {
		return nil, fmt.Errorf("list attributes: %w", err)
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.RequestID, &a.Type, &a.Value); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddAttribute(ctx context.Context, requestID int64, typ, value string) error {
	if err := s.requestExists(ctx, requestID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO ill_request_attributes (request_id, type, value) VALUES (?, ?, ?)`), requestID, typ, value)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attribute %s: %w", typ, ErrConflict)
		}
		return fmt.Errorf("insert attribute %s: %w", typ, err)
	}
	return nil
}

func (s *sqlStore) UpdateAttribute(ctx context.Context, requestID int64, typ, value string) error {
	if err := s.requestExists(ctx, requestID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO ill_request_attributes (request_id, type, value) VALUES (?, ?, ?)
		ON CONFLICT (request_id, type) DO UPDATE SET value = excluded.value`), requestID, typ, value)
	if err != nil {
		return fmt.Errorf("upsert attribute %s: %w", typ, err)
	}
	return nil
}

func (s *sqlStore) CreatePatron(ctx context.Context, p *Patron) error {
	var card any
	if p.CardNumber != "" {
		card = p.CardNumber
	}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO patrons (card_number, surname, firstname, email, branch_code)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		card, p.Surname, p.FirstName, p.Email, p.BranchCode,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("card %s: %w", p.CardNumber, ErrConflict)
		}
		return fmt.Errorf("insert patron: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateBranch(ctx context.Context, b Branch) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO branches (code, name) VALUES (?, ?)`), b.Code, b.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("branch %s: %w", b.Code, ErrConflict)
		}
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

const patronColumns = `id, COALESCE(card_number, ''), surname, firstname, email, branch_code`

func scanPatron(row rowScanner) (*Patron, error) {
	var p Patron
	if err := row.Scan(&p.ID, &p.CardNumber, &p.Surname, &p.FirstName, &p.Email, &p.BranchCode); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqlStore) FindPatronByCardNumber(ctx context.Context, card string) (*Patron, error) {
	p, err := scanPatron(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+patronColumns+` FROM patrons WHERE card_number = ?`), card))
	if err != nil {
		return nil, notFound(err, "card "+card)
	}
	return p, nil
}

func (s *sqlStore) FindPatronByID(ctx context.Context, id int64) (*Patron, error) {
	p, err := scanPatron(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+patronColumns+` FROM patrons WHERE id = ?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("patron %d", id))
	}
	return p, nil
}

func (s *sqlStore) SearchPatrons(ctx context.Context, field PatronField, value string) ([]Patron, error) {
	var column string
	switch field {
	case PatronSurname:
		column = "surname"
	case PatronFirstName:
		column = "firstname"
	default:
		return nil, fmt.Errorf("unsupported patron field %q", field)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+patronColumns+` FROM patrons WHERE LOWER(`+column+`) = LOWER(?) ORDER BY id`), value)
	if err != nil {
		return nil, fmt.Errorf("search patrons: %w", err)
	}
	defer rows.Close()

	var out []Patron
	for rows.Next() {
		p, err := scanPatron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetBranch(ctx context.Context, code string) (*Branch, error) {
	var b Branch
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT code, name FROM branches WHERE code = ?`), code).Scan(&b.Code, &b.Name)
	if err != nil {
		return nil, notFound(err, "branch "+code)
	}
	return &b, nil
}

func (s *sqlStore) StageRecord(ctx context.Context, rec *StagedRecord) (int64, error) {
	now := s.now()
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO import_records (batch_id, target, encoding, title, author, isbn, raw, staged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		rec.BatchID, rec.Target, rec.Encoding, rec.Title, rec.Author, rec.ISBN, rec.Raw, now,
	).Scan(&rec.ID)
	if err != nil {
		return 0, fmt.Errorf("stage record: %w", err)
	}
	rec.StagedAt = now
	return rec.ID, nil
}

func (s *sqlStore) GetStagedRecord(ctx context.Context, id int64) (*StagedRecord, error) {
	var r StagedRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, batch_id, target, encoding, title, author, isbn, raw, staged_at
		FROM import_records WHERE id = ?`), id,
	).Scan(&r.ID, &r.BatchID, &r.Target, &r.Encoding, &r.Title, &r.Author, &r.ISBN, &r.Raw, &r.StagedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("staged record %d", id))
	}
	r.StagedAt = r.StagedAt.UTC()
	return &r, nil
}

func (s *sqlStore) CommitRecord(ctx context.Context, rec *z3950.MARCRecord, framework string) (int64, error) {
	raw, err := rec.Marshal()
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO biblio (framework, title, author, isbn, suppressed, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		framework, rec.Title, rec.Author, rec.ISBN, suppressed(rec), raw, s.now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("commit record: %w", err)
	}
	return id, nil
}

func (s *sqlStore) GetRecord(ctx context.Context, id int64) (*CatalogRecord, error) {
	var r CatalogRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, framework, title, author, isbn, suppressed, raw, created_at
		FROM biblio WHERE id = ?`), id,
	).Scan(&r.ID, &r.Framework, &r.Title, &r.Author, &r.ISBN, &r.Suppressed, &r.Raw, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("record %d", id))
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
