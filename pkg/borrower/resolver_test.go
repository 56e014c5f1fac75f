package borrower

import (
	"context"
	"errors"
	"testing"

	"github.com/yourusername/open-ill-broker/pkg/provider"
)

func seeded(t *testing.T) *provider.MemoryProvider {
	t.Helper()
	m := provider.NewMemoryProvider()
	if err := provider.SeedDemo(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestResolve(t *testing.T) {
	dir := seeded(t)
	r := NewResolver(dir)

	tests := []struct {
		name        string
		identifier  string
		mode        Mode
		wantCount   int
		wantSurname string
	}{
		{"card number", "23529000035676", ModeCardNumber, 1, "Acosta"},
		{"card number with spaces", "  23529000035676 ", ModeCardNumber, 1, "Acosta"},
		{"unique surname", "acosta", ModeCardNumber, 1, "Acosta"},
		{"shared surname is ambiguous", "Mason", ModeCardNumber, 2, ""},
		{"first name after surname misses", "Lorraine", ModeCardNumber, 1, "Mason"},
		{"nobody", "Nobody", ModeCardNumber, 0, ""},
		{"empty", "", ModeCardNumber, 0, ""},
		{"continuation by id", "1", ModeContinuation, 1, "Acosta"},
		{"continuation falls back", "Jerry", ModeContinuation, 1, "Mason"},
		{"card number is not an id", "23529000035676", ModeContinuation, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), tt.identifier, tt.mode)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Count != tt.wantCount {
				t.Fatalf("count = %d, want %d", res.Count, tt.wantCount)
			}
			switch {
			case tt.wantCount == 1:
				if res.Patron == nil || res.Patron.Surname != tt.wantSurname {
					t.Errorf("patron = %+v, want surname %s", res.Patron, tt.wantSurname)
				}
			case tt.wantCount > 1:
				if res.Patron != nil || len(res.Candidates) != tt.wantCount {
					t.Errorf("expected %d candidates and no patron, got %+v", tt.wantCount, res)
				}
			default:
				if res.Patron != nil || res.Candidates != nil {
					t.Errorf("expected empty resolution, got %+v", res)
				}
			}
		})
	}
}

// fakeDirectory lets tests script each lookup.
type fakeDirectory struct {
	FindByCardFunc func(ctx context.Context, card string) (*provider.Patron, error)
	FindByIDFunc   func(ctx context.Context, id int64) (*provider.Patron, error)
	SearchFunc     func(ctx context.Context, field provider.PatronField, value string) ([]provider.Patron, error)
}

func (f *fakeDirectory) FindPatronByCardNumber(ctx context.Context, card string) (*provider.Patron, error) {
	return f.FindByCardFunc(ctx, card)
}

func (f *fakeDirectory) FindPatronByID(ctx context.Context, id int64) (*provider.Patron, error) {
	return f.FindByIDFunc(ctx, id)
}

func (f *fakeDirectory) SearchPatrons(ctx context.Context, field provider.PatronField, value string) ([]provider.Patron, error) {
	return f.SearchFunc(ctx, field, value)
}

func TestResolveCascadeOrderAndShortCircuit(t *testing.T) {
	var tried []provider.PatronField
	dir := &fakeDirectory{
		FindByCardFunc: func(context.Context, string) (*provider.Patron, error) { return nil, provider.ErrNotFound },
		SearchFunc: func(_ context.Context, field provider.PatronField, _ string) ([]provider.Patron, error) {
			tried = append(tried, field)
			if field == provider.PatronSurname {
				return []provider.Patron{{ID: 1}, {ID: 2}, {ID: 3}}, nil
			}
			return []provider.Patron{{ID: 4}}, nil
		},
	}
	res, err := NewResolver(dir).Resolve(context.Background(), "Smith", ModeCardNumber)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 3 {
		t.Errorf("count = %d, want 3", res.Count)
	}
	if len(tried) != 1 || tried[0] != provider.PatronSurname {
		t.Errorf("cascade tried %v, want only surname", tried)
	}
}

func TestResolveDirectoryFailure(t *testing.T) {
	boom := errors.New("directory offline")
	dir := &fakeDirectory{
		FindByCardFunc: func(context.Context, string) (*provider.Patron, error) { return nil, boom },
	}
	if _, err := NewResolver(dir).Resolve(context.Background(), "x", ModeCardNumber); !errors.Is(err, boom) {
		t.Fatalf("expected directory error, got %v", err)
	}
}
