package location

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests of packages that resolve
// locations.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Location
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]*Location)}
}

func (r *MemoryRepo) Create(_ context.Context, l *Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	var parent *Location
	if l.ParentID != nil {
		p, ok := r.items[*l.ParentID]
		if !ok {
			return ErrNotFound
		}
		parent = p
	}
	l.Path = BuildPath(parent, l.ID)
	l.Parent = parent
	r.items[l.ID] = l
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) GetByCode(_ context.Context, code string) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code = strings.TrimSpace(code)
	for _, l := range r.items {
		if strings.EqualFold(l.HCID, code) {
			return l, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) Ancestors(_ context.Context, l *Location, typeCodes ...string) ([]*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Location
	for _, id := range l.AncestorIDs() {
		a, ok := r.items[id]
		if !ok || !matchesType(a, typeCodes) {
			continue
		}
		out = append(out, a)
	}
	// nearest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *MemoryRepo) Descendants(_ context.Context, l *Location, typeCode string, limit, offset int) ([]*Location, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Location
	for _, d := range r.items {
		if d.ID != l.ID && strings.HasPrefix(d.Path, l.Path) && d.TypeCode == typeCode {
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func matchesType(l *Location, typeCodes []string) bool {
	if len(typeCodes) == 0 {
		return true
	}
	for _, t := range typeCodes {
		if l.TypeCode == t {
			return true
		}
	}
	return false
}
