package config

import (
	"fmt"
	"sort"
	"strings"
)

type Protocol string

const (
	ProtocolSRU   Protocol = "sru"
	ProtocolZ3950 Protocol = "z3950"
)

// Target is a configured remote partner.
type Target struct {
	Name      string   `mapstructure:"name" json:"name"`
	Protocol  Protocol `mapstructure:"protocol" json:"protocol"`
	SearchURL string   `mapstructure:"search_url" json:"search_url,omitempty"`
	Host      string   `mapstructure:"host" json:"host,omitempty"`
	Port      int      `mapstructure:"port" json:"port,omitempty"`
	Database  string   `mapstructure:"database" json:"database,omitempty"`
	Encoding  string   `mapstructure:"encoding" json:"encoding,omitempty"` // "MARC21", "UNIMARC"
	HoldsURL  string   `mapstructure:"holds_url" json:"holds_url,omitempty"`
	CatalogID int      `mapstructure:"catalog_id" json:"catalog_id,omitempty"`
	Username  string   `mapstructure:"username" json:"-"`
	Password  string   `mapstructure:"password" json:"-"`
}

func (t Target) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target has empty name")
	}
	switch t.Protocol {
	case ProtocolSRU:
		if t.SearchURL == "" {
			return fmt.Errorf("target %s: sru protocol requires search_url", t.Name)
		}
	case ProtocolZ3950:
		if t.Host == "" || t.Port <= 0 || t.Database == "" {
			return fmt.Errorf("target %s: z3950 protocol requires host, port and database", t.Name)
		}
	default:
		return fmt.Errorf("target %s: unknown protocol %q", t.Name, t.Protocol)
	}
	return nil
}

// TargetTable is an immutable name-indexed set of targets. It is safe for
// concurrent reads without locking.
type TargetTable struct {
	byName map[string]Target
	names  []string
}

func NewTargetTable(targets []Target) (*TargetTable, error) {
	tt := &TargetTable{byName: make(map[string]Target, len(targets))}
	for _, t := range targets {
		if t.Protocol == "" {
			t.Protocol = ProtocolSRU
		}
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := tt.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate target name %q", t.Name)
		}
		tt.byName[t.Name] = t
		tt.names = append(tt.names, t.Name)
	}
	sort.Strings(tt.names)
	return tt, nil
}

func (tt *TargetTable) Lookup(name string) (Target, bool) {
	if tt == nil {
		return Target{}, false
	}
	t, ok := tt.byName[name]
	return t, ok
}

// Names returns target names in ascending order.
func (tt *TargetTable) Names() []string {
	if tt == nil {
		return nil
	}
	out := make([]string, len(tt.names))
	copy(out, tt.names)
	return out
}

// All returns every target ordered by name.
func (tt *TargetTable) All() []Target {
	if tt == nil {
		return nil
	}
	out := make([]Target, 0, len(tt.names))
	for _, n := range tt.names {
		out = append(out, tt.byName[n])
	}
	return out
}

func (tt *TargetTable) Len() int {
	if tt == nil {
		return 0
	}
	return len(tt.names)
}
