package reference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNotLoaded = errors.New("reference data not loaded")

// Registry is an in-memory index over the reference tables. It is filled by
// an explicit Load at startup and replaced wholesale on each Refresh, so
// readers always see one consistent snapshot.
type Registry struct {
	source Source
	logger zerolog.Logger

	mu  sync.RWMutex
	idx *index
}

type index struct {
	snap           *Snapshot
	positions      map[string]*Position
	positionsByID  map[uuid.UUID]*Position
	programs       map[string]*Program
	programsByID   map[uuid.UUID]*Program
	groups         map[string]*PatientGroup
	groupsByID     map[uuid.UUID]*PatientGroup
	items          map[string]*Item
	itemsByID      map[uuid.UUID]*Item
	categoriesByID map[uuid.UUID]*ProgramCategory
}

func NewRegistry(source Source, logger zerolog.Logger) *Registry {
	return &Registry{source: source, logger: logger.With().Str("component", "reference").Logger()}
}

func key(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func buildIndex(s *Snapshot) *index {
	idx := &index{
		snap:           s,
		positions:      make(map[string]*Position, len(s.Positions)),
		positionsByID:  make(map[uuid.UUID]*Position, len(s.Positions)),
		programs:       make(map[string]*Program, len(s.Programs)),
		programsByID:   make(map[uuid.UUID]*Program, len(s.Programs)),
		groups:         make(map[string]*PatientGroup, len(s.Groups)),
		groupsByID:     make(map[uuid.UUID]*PatientGroup, len(s.Groups)),
		items:          make(map[string]*Item, len(s.Items)),
		itemsByID:      make(map[uuid.UUID]*Item, len(s.Items)),
		categoriesByID: make(map[uuid.UUID]*ProgramCategory, len(s.Categories)),
	}
	for _, p := range s.Positions {
		idx.positionsByID[p.ID] = p
		if alt := key(p.AltCode); alt != "" {
			idx.positions[alt] = p
		}
	}
	for _, p := range s.Positions {
		idx.positions[key(p.Code)] = p
	}
	for _, p := range s.Programs {
		idx.programs[key(p.Code)] = p
		idx.programsByID[p.ID] = p
	}
	for _, g := range s.Groups {
		idx.groups[key(g.Code)] = g
		idx.groupsByID[g.ID] = g
	}
	for _, c := range s.Categories {
		idx.categoriesByID[c.ID] = c
	}
	for _, it := range s.Items {
		idx.itemsByID[it.ID] = it
		for _, alt := range it.AltCodes {
			if alt = key(alt); alt != "" {
				idx.items[alt] = it
			}
		}
	}
	// primary codes win over alternates
	for _, it := range s.Items {
		idx.items[key(it.Code)] = it
	}
	return idx
}

// Load reads every table from the source and swaps the index in.
func (r *Registry) Load(ctx context.Context) error {
	snap, err := r.source.Load(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{}
	}
	if snap.LoadedAt.IsZero() {
		snap.LoadedAt = time.Now().UTC()
	}
	idx := buildIndex(snap)

	r.mu.Lock()
	r.idx = idx
	r.mu.Unlock()

	r.logger.Info().
		Int("positions", len(snap.Positions)).
		Int("programs", len(snap.Programs)).
		Int("groups", len(snap.Groups)).
		Int("items", len(snap.Items)).
		Msg("reference data loaded")
	return nil
}

// Run refreshes the registry every interval until ctx is done. A failed
// refresh keeps the previous snapshot.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Load(ctx); err != nil {
				r.logger.Error().Err(err).Msg("refresh reference data")
			}
		}
	}
}

func (r *Registry) current() *index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx
}

// Snapshot returns the loaded snapshot, or nil before the first Load.
func (r *Registry) Snapshot() *Snapshot {
	if idx := r.current(); idx != nil {
		return idx.snap
	}
	return nil
}

func (r *Registry) Position(code string) *Position {
	if idx := r.current(); idx != nil {
		return idx.positions[key(code)]
	}
	return nil
}

func (r *Registry) PositionByID(id uuid.UUID) *Position {
	if idx := r.current(); idx != nil {
		return idx.positionsByID[id]
	}
	return nil
}

func (r *Registry) Program(code string) *Program {
	if idx := r.current(); idx != nil {
		return idx.programs[key(code)]
	}
	return nil
}

func (r *Registry) ProgramByID(id uuid.UUID) *Program {
	if idx := r.current(); idx != nil {
		return idx.programsByID[id]
	}
	return nil
}

func (r *Registry) Group(code string) *PatientGroup {
	if idx := r.current(); idx != nil {
		return idx.groups[key(code)]
	}
	return nil
}

func (r *Registry) GroupByID(id uuid.UUID) *PatientGroup {
	if idx := r.current(); idx != nil {
		return idx.groupsByID[id]
	}
	return nil
}

// Item matches the primary code or any alternate code.
func (r *Registry) Item(code string) *Item {
	if idx := r.current(); idx != nil {
		return idx.items[key(code)]
	}
	return nil
}

func (r *Registry) ItemByID(id uuid.UUID) *Item {
	if idx := r.current(); idx != nil {
		return idx.itemsByID[id]
	}
	return nil
}

func (r *Registry) Category(id uuid.UUID) *ProgramCategory {
	if idx := r.current(); idx != nil {
		return idx.categoriesByID[id]
	}
	return nil
}

// Programs returns programs in code order.
func (r *Registry) Programs() []*Program {
	if idx := r.current(); idx != nil {
		return idx.snap.Programs
	}
	return nil
}

// Groups returns patient groups in code order.
func (r *Registry) Groups() []*PatientGroup {
	if idx := r.current(); idx != nil {
		return idx.snap.Groups
	}
	return nil
}
