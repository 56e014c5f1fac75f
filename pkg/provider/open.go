package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourusername/open-ill-broker/pkg/config"
)

// Open builds the store named by cfg.Provider. Unknown or empty names fall
// back to the in-memory provider, which is seeded with demo data.
func Open(ctx context.Context, cfg config.DBConfig) (Store, error) {
	slog.Info("initializing database provider", "type", cfg.Provider)
	switch cfg.Provider {
	case "sqlite":
		return NewSQLiteProvider(cfg.Path)
	case "postgres":
		return NewPostgresProvider(cfg.DSN)
	case "", "memory":
		mem := NewMemoryProvider()
		if err := SeedDemo(ctx, mem); err != nil {
			return nil, fmt.Errorf("seeding memory provider: %w", err)
		}
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown db provider %q", cfg.Provider)
	}
}

// SeedDemo adds a branch and a few patrons so a fresh in-memory broker can
// take requests straight away.
func SeedDemo(ctx context.Context, s Store) error {
	branches := []Branch{
		{Code: "CPL", Name: "Centerville"},
		{Code: "MPL", Name: "Midway"},
	}
	for _, b := range branches {
		if err := s.CreateBranch(ctx, b); err != nil {
			return err
		}
	}
	patrons := []Patron{
		{CardNumber: "23529000035676", Surname: "Acosta", FirstName: "Edna", BranchCode: "CPL"},
		{CardNumber: "23529000050113", Surname: "Mason", FirstName: "Jerry", BranchCode: "MPL"},
		{CardNumber: "23529000120056", Surname: "Mason", FirstName: "Lorraine", BranchCode: "CPL"},
	}
	for i := range patrons {
		if err := s.CreatePatron(ctx, &patrons[i]); err != nil {
			return err
		}
	}
	return nil
}
