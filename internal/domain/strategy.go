package domain

import (
	"fmt"
	"strings"
)

type MergeStrategy string

const (
	StrategyPreferLocal  MergeStrategy = "prefer_local"
	StrategyPreferRemote MergeStrategy = "prefer_remote"
	StrategyMerge        MergeStrategy = "merge"
	StrategyManual       MergeStrategy = "manual"
	StrategyPrompt       MergeStrategy = "prompt"
)

func (s MergeStrategy) Valid() bool {
	switch s {
	case StrategyPreferLocal, StrategyPreferRemote, StrategyMerge, StrategyManual, StrategyPrompt:
		return true
	}
	return false
}

// NeedsReview reports whether conflicts under this strategy are queued for a
// human instead of being applied.
func (s MergeStrategy) NeedsReview() bool {
	return s == StrategyManual || s == StrategyPrompt
}

func ParseMergeStrategy(s string) (MergeStrategy, error) {
	st := MergeStrategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown merge strategy %q", s)
	}
	return st, nil
}

type FieldStrategy struct {
	Field    string        `json:"field" yaml:"name"`
	Strategy MergeStrategy `json:"strategy" yaml:"strategy"`
}

// StrategyTable maps field names to merge strategies. Declaration order is
// kept so detection output is deterministic.
type StrategyTable struct {
	entries []FieldStrategy
	index   map[string]MergeStrategy
}

func NewStrategyTable(entries ...FieldStrategy) (*StrategyTable, error) {
	t := &StrategyTable{
		entries: make([]FieldStrategy, 0, len(entries)),
		index:   make(map[string]MergeStrategy, len(entries)),
	}

	for i, e := range entries {
		if e.Field == "" {
			return nil, fmt.Errorf("strategy table entry %d: empty field name", i)
		}
		if !e.Strategy.Valid() {
			return nil, fmt.Errorf("strategy table entry %q: unknown strategy %q", e.Field, e.Strategy)
		}
		if _, dup := t.index[e.Field]; dup {
			return nil, fmt.Errorf("strategy table entry %q: duplicate field", e.Field)
		}
		t.entries = append(t.entries, e)
		t.index[e.Field] = e.Strategy
	}

	return t, nil
}

// DefaultStrategyTable is the built-in table for devices synced from the
// external IoT platform.
func DefaultStrategyTable() *StrategyTable {
	t, err := NewStrategyTable(
		FieldStrategy{Field: "name", Strategy: StrategyPreferLocal},
		FieldStrategy{Field: "description", Strategy: StrategyPreferLocal},
		FieldStrategy{Field: "notes", Strategy: StrategyPreferLocal},
		FieldStrategy{Field: "tags", Strategy: StrategyMerge},
		FieldStrategy{Field: "status", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "battery_level", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "firmware_version", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "last_seen_online", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "last_seen_offline", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "hardware_ids", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "cohort_id", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "golioth_status", Strategy: StrategyPreferRemote},
		FieldStrategy{Field: "metadata", Strategy: StrategyManual},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the configured strategy, or prompt for unknown fields.
func (t *StrategyTable) Lookup(field string) MergeStrategy {
	if s, ok := t.index[field]; ok {
		return s
	}
	return StrategyPrompt
}

func (t *StrategyTable) Has(field string) bool {
	_, ok := t.index[field]
	return ok
}

func (t *StrategyTable) Fields() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Field
	}
	return out
}

func (t *StrategyTable) Entries() []FieldStrategy {
	out := make([]FieldStrategy, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *StrategyTable) Len() int { return len(t.entries) }
