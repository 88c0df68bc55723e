package personnel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// MemoryRepo is an in-memory Repository for tests of packages that look up
// workers. Writes are counted so callers can assert on no-op paths.
type MemoryRepo struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]*Contact
	items    map[uuid.UUID]*Personnel
	Writes   int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		contacts: make(map[uuid.UUID]*Contact),
		items:    make(map[uuid.UUID]*Personnel),
	}
}

func (r *MemoryRepo) GetByIdentity(_ context.Context, identity string) (*Personnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if c, ok := r.contacts[p.ContactID]; ok && c.Identity == identity {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Personnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Create rejects a second contact for an identity with the unique violation
// Postgres reports for contact.identity.
func (r *MemoryRepo) Create(_ context.Context, c *Contact, p *Personnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.contacts {
		if existing.Identity == c.Identity {
			return &pgconn.PgError{Code: "23505", ConstraintName: "contact_identity_key"}
		}
	}
	now := time.Now().UTC()
	c.ID = uuid.New()
	c.CreatedAt = now
	p.ID = uuid.New()
	p.ContactID = c.ID
	p.CreatedAt, p.UpdatedAt = now, now
	cc, cp := *c, *p
	r.contacts[c.ID] = &cc
	r.items[p.ID] = &cp
	r.Writes++
	return nil
}

func (r *MemoryRepo) Update(_ context.Context, p *Personnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	r.items[p.ID] = &cp
	r.Writes++
	return nil
}

func (r *MemoryRepo) MobilesAt(_ context.Context, locationIDs []uuid.UUID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(locationIDs))
	for _, id := range locationIDs {
		want[id] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range r.items {
		if want[p.SiteID] && p.Mobile != "" && !seen[p.Mobile] {
			seen[p.Mobile] = true
			out = append(out, p.Mobile)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepo) ListBySite(_ context.Context, siteID uuid.UUID, limit, offset int) ([]*Personnel, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Personnel
	for _, p := range r.items {
		if p.SiteID == siteID {
			cp := *p
			all = append(all, &cp)
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
