package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

// MemoryProvider keeps everything in process memory. It backs tests and
// the default "memory" db provider.
type MemoryProvider struct {
	mu         sync.RWMutex
	requests   map[int64]ILLRequest
	attributes map[int64][]Attribute
	patrons    []Patron
	branches   map[string]Branch
	staged     map[int64]StagedRecord
	records    map[int64]CatalogRecord

	nextRequest int64
	nextPatron  int64
	nextStaged  int64
	nextRecord  int64

	now func() time.Time
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		requests:   make(map[int64]ILLRequest),
		attributes: make(map[int64][]Attribute),
		branches:   make(map[string]Branch),
		staged:     make(map[int64]StagedRecord),
		records:    make(map[int64]CatalogRecord),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryProvider) Close() error { return nil }

func (m *MemoryProvider) CreateRequest(ctx context.Context, req *ILLRequest, attrs []Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if seen[a.Type] {
			return fmt.Errorf("attribute %s: %w", a.Type, ErrConflict)
		}
		seen[a.Type] = true
	}

	m.nextRequest++
	req.ID = m.nextRequest
	req.PlacedAt = m.now()
	req.UpdatedAt = req.PlacedAt
	m.requests[req.ID] = cloneRequest(*req)

	list := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		a.RequestID = req.ID
		list = append(list, a)
	}
	m.attributes[req.ID] = list
	return nil
}

func (m *MemoryProvider) GetRequest(ctx context.Context, id int64) (*ILLRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	r := cloneRequest(req)
	return &r, nil
}

func (m *MemoryProvider) UpdateRequest(ctx context.Context, req *ILLRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.requests[req.ID]
	if !ok {
		return fmt.Errorf("request %d: %w", req.ID, ErrNotFound)
	}
	req.PlacedAt = old.PlacedAt
	req.UpdatedAt = m.now()
	if req.UpdatedAt.Before(req.PlacedAt) {
		req.UpdatedAt = req.PlacedAt
	}
	m.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (m *MemoryProvider) ListRequests(ctx context.Context, filter RequestFilter) ([]ILLRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ILLRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.BorrowerID != 0 && r.BorrowerID != filter.BorrowerID {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryProvider) GetAttributes(ctx context.Context, requestID int64) ([]Attribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.requests[requestID]; !ok {
		return nil, fmt.Errorf("request %d: %w", requestID, ErrNotFound)
	}
	out := make([]Attribute, len(m.attributes[requestID]))
	copy(out, m.attributes[requestID])
	return out, nil
}

func (m *MemoryProvider) AddAttribute(ctx context.Context, requestID int64, typ, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[requestID]; !ok {
		return fmt.Errorf("request %d: %w", requestID, ErrNotFound)
	}
	for _, a := range m.attributes[requestID] {
		if a.Type == typ {
			return fmt.Errorf("attribute %s: %w", typ, ErrConflict)
		}
	}
	m.attributes[requestID] = append(m.attributes[requestID], Attribute{RequestID: requestID, Type: typ, Value: value})
	return nil
}

func (m *MemoryProvider) UpdateAttribute(ctx context.Context, requestID int64, typ, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[requestID]; !ok {
		return fmt.Errorf("request %d: %w", requestID, ErrNotFound)
	}
	attrs := m.attributes[requestID]
	for i := range attrs {
		if attrs[i].Type == typ {
			attrs[i].Value = value
			return nil
		}
	}
	m.attributes[requestID] = append(attrs, Attribute{RequestID: requestID, Type: typ, Value: value})
	return nil
}

func (m *MemoryProvider) CreatePatron(ctx context.Context, p *Patron) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.patrons {
		if p.CardNumber != "" && existing.CardNumber == p.CardNumber {
			return fmt.Errorf("card %s: %w", p.CardNumber, ErrConflict)
		}
	}
	m.nextPatron++
	p.ID = m.nextPatron
	m.patrons = append(m.patrons, *p)
	return nil
}

func (m *MemoryProvider) CreateBranch(ctx context.Context, b Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[b.Code]; ok {
		return fmt.Errorf("branch %s: %w", b.Code, ErrConflict)
	}
	m.branches[b.Code] = b
	return nil
}

func (m *MemoryProvider) FindPatronByCardNumber(ctx context.Context, card string) (*Patron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patrons {
		if p.CardNumber == card {
			found := p
			return &found, nil
		}
	}
	return nil, fmt.Errorf("card %s: %w", card, ErrNotFound)
}

func (m *MemoryProvider) FindPatronByID(ctx context.Context, id int64) (*Patron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patrons {
		if p.ID == id {
			found := p
			return &found, nil
		}
	}
	return nil, fmt.Errorf("patron %d: %w", id, ErrNotFound)
}

func (m *MemoryProvider) SearchPatrons(ctx context.Context, field PatronField, value string) ([]Patron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Patron
	for _, p := range m.patrons {
		var v string
		switch field {
		case PatronSurname:
			v = p.Surname
		case PatronFirstName:
			v = p.FirstName
		default:
			return nil, fmt.Errorf("unsupported patron field %q", field)
		}
		if strings.EqualFold(v, value) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryProvider) GetBranch(ctx context.Context, code string) (*Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[code]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", code, ErrNotFound)
	}
	return &b, nil
}

func (m *MemoryProvider) StageRecord(ctx context.Context, rec *StagedRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStaged++
	rec.ID = m.nextStaged
	rec.StagedAt = m.now()
	stored := *rec
	stored.Raw = append([]byte(nil), rec.Raw...)
	m.staged[rec.ID] = stored
	return rec.ID, nil
}

func (m *MemoryProvider) GetStagedRecord(ctx context.Context, id int64) (*StagedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.staged[id]
	if !ok {
		return nil, fmt.Errorf("staged record %d: %w", id, ErrNotFound)
	}
	rec.Raw = append([]byte(nil), rec.Raw...)
	return &rec, nil
}

func (m *MemoryProvider) CommitRecord(ctx context.Context, rec *z3950.MARCRecord, framework string) (int64, error) {
	raw, err := rec.Marshal()
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRecord++
	m.records[m.nextRecord] = CatalogRecord{
		ID:         m.nextRecord,
		Framework:  framework,
		Title:      rec.Title,
		Author:     rec.Author,
		ISBN:       rec.ISBN,
		Suppressed: suppressed(rec),
		Raw:        raw,
		CreatedAt:  m.now(),
	}
	return m.nextRecord, nil
}

func (m *MemoryProvider) GetRecord(ctx context.Context, id int64) (*CatalogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return &rec, nil
}

func cloneRequest(r ILLRequest) ILLRequest {
	if r.OrderID != nil {
		v := *r.OrderID
		r.OrderID = &v
	}
	if r.Cost != nil {
		v := *r.Cost
		r.Cost = &v
	}
	if r.AccessURL != nil {
		v := *r.AccessURL
		r.AccessURL = &v
	}
	if r.BiblioID != nil {
		v := *r.BiblioID
		r.BiblioID = &v
	}
	return r
}
