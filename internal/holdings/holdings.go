// Package holdings reads open positions and realized trades from YAML files
// exported from the brokerage.
package holdings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eddiefleurent/strike_advisor/internal/marketdata"
	"github.com/eddiefleurent/strike_advisor/internal/models"
)

const dateLayout = "2006-01-02"

// PositionSource supplies the current set of open short options.
type PositionSource interface {
	Positions(ctx context.Context) ([]models.Position, error)
}

type positionsFile struct {
	Positions []positionEntry `yaml:"positions"`
}

type positionEntry struct {
	Symbol          string  `yaml:"symbol"`
	Account         string  `yaml:"account"`
	OptionType      string  `yaml:"option_type"`
	Expiration      string  `yaml:"expiration"`
	Strike          float64 `yaml:"strike"`
	OriginalPremium float64 `yaml:"original_premium"`
	CurrentPremium  float64 `yaml:"current_premium"`
	Contracts       int     `yaml:"contracts"`
}

// File reads positions from a YAML file on every call so edits are picked up
// by the next pass.
type File struct {
	path string
}

var _ PositionSource = (*File)(nil)

// NewFile creates a position source over path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Positions loads and validates every position in the file.
func (f *File) Positions(_ context.Context) ([]models.Position, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading holdings: %w", err)
	}
	return ParsePositions(data)
}

// ParsePositions decodes a holdings document. Duplicate identities are rejected.
func ParsePositions(data []byte) ([]models.Position, error) {
	var doc positionsFile
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing holdings: %w", err)
	}

	seen := make(map[string]bool, len(doc.Positions))
	out := make([]models.Position, 0, len(doc.Positions))
	for i, e := range doc.Positions {
		optType, err := models.ParseOptionType(e.OptionType)
		if err != nil {
			return nil, fmt.Errorf("position %d (%s): %w", i+1, e.Symbol, err)
		}
		exp, err := time.Parse(dateLayout, strings.TrimSpace(e.Expiration))
		if err != nil {
			return nil, fmt.Errorf("position %d (%s): expiration must be YYYY-MM-DD: %w", i+1, e.Symbol, err)
		}
		p := models.Position{
			Symbol:          strings.ToUpper(strings.TrimSpace(e.Symbol)),
			Account:         strings.TrimSpace(e.Account),
			OptionType:      optType,
			Expiration:      exp,
			Strike:          e.Strike,
			OriginalPremium: e.OriginalPremium,
			CurrentPremium:  e.CurrentPremium,
			Contracts:       e.Contracts,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("position %d: %w", i+1, err)
		}
		if seen[p.Key()] {
			return nil, fmt.Errorf("position %d: duplicate position %s", i+1, p.Key())
		}
		seen[p.Key()] = true
		out = append(out, p)
	}
	return out, nil
}

type ledgerFile struct {
	Executions []executionEntry `yaml:"executions"`
}

type executionEntry struct {
	ID         string  `yaml:"id"`
	Symbol     string  `yaml:"symbol"`
	Account    string  `yaml:"account"`
	OptionType string  `yaml:"option_type"`
	Action     string  `yaml:"action"`
	Expiration string  `yaml:"expiration"`
	ExecutedAt string  `yaml:"executed_at"`
	Strike     float64 `yaml:"strike"`
	Premium    float64 `yaml:"premium"`
	Contracts  int     `yaml:"contracts"`
}

// Ledger reads realized trades from a YAML transaction ledger. A missing file
// means no trades.
type Ledger struct {
	path string
}

var _ marketdata.ExecutionSource = (*Ledger)(nil)

// NewLedger creates an execution source over path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Executions returns trades executed in [from, to), oldest first.
func (l *Ledger) Executions(_ context.Context, from, to time.Time) ([]models.Execution, error) {
	data, err := os.ReadFile(l.path) // #nosec G304 -- path comes from operator config
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	all, err := ParseExecutions(data)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if !e.ExecutedAt.Before(from) && e.ExecutedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ParseExecutions decodes a ledger document.
func ParseExecutions(data []byte) ([]models.Execution, error) {
	var doc ledgerFile
	if err := decodeStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}

	seen := make(map[string]bool, len(doc.Executions))
	out := make([]models.Execution, 0, len(doc.Executions))
	for i, e := range doc.Executions {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("execution %d: id is required", i+1)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("execution %d: duplicate id %s", i+1, e.ID)
		}
		seen[e.ID] = true

		optType, err := models.ParseOptionType(e.OptionType)
		if err != nil {
			return nil, fmt.Errorf("execution %s: %w", e.ID, err)
		}
		action := models.ExecutionAction(strings.ToLower(strings.TrimSpace(e.Action)))
		if !action.Valid() {
			return nil, fmt.Errorf("execution %s: unknown action %q", e.ID, e.Action)
		}
		exp, err := time.Parse(dateLayout, strings.TrimSpace(e.Expiration))
		if err != nil {
			return nil, fmt.Errorf("execution %s: expiration must be YYYY-MM-DD: %w", e.ID, err)
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(e.ExecutedAt))
		if err != nil {
			return nil, fmt.Errorf("execution %s: executed_at must be RFC 3339: %w", e.ID, err)
		}

		out = append(out, models.Execution{
			ID:         e.ID,
			Symbol:     strings.ToUpper(strings.TrimSpace(e.Symbol)),
			Account:    strings.TrimSpace(e.Account),
			OptionType: optType,
			Action:     action,
			Strike:     e.Strike,
			Expiration: exp,
			Premium:    e.Premium,
			Contracts:  e.Contracts,
			ExecutedAt: at.UTC(),
		})
	}
	slices.SortStableFunc(out, func(a, b models.Execution) int { return a.ExecutedAt.Compare(b.ExecutedAt) })
	return out, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
