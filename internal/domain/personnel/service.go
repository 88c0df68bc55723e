package personnel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/platform/db"
)

// TxFunc runs fn as one unit of work.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

const (
	conflictRetries      = 3
	recipientConcurrency = 8
)

// Outcome says what Register did.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

type Registration struct {
	Identity   string
	Name       string
	Email      string
	SiteID     uuid.UUID
	PositionID uuid.UUID
}

type Service struct {
	repo       Repository
	locations  location.Repository
	alertTypes []string
	inTx       TxFunc
}

// NewService creates a Service. inTx may be nil.
func NewService(repo Repository, locations location.Repository, alertTypes []string, inTx TxFunc) *Service {
	if inTx == nil {
		inTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{repo: repo, locations: locations, alertTypes: alertTypes, inTx: inTx}
}

// ByIdentity returns the worker behind a sender identity, or nil when the
// sender is not registered.
func (s *Service) ByIdentity(ctx context.Context, identity string) (*Personnel, error) {
	p, err := s.repo.GetByIdentity(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// Register creates a worker for a new identity or updates the existing one.
// Resubmitting identical details writes nothing and returns Unchanged.
func (s *Service) Register(ctx context.Context, in Registration) (*Personnel, Outcome, error) {
	if in.Identity == "" {
		return nil, Unchanged, fmt.Errorf("identity is required")
	}
	if in.Name == "" {
		return nil, Unchanged, fmt.Errorf("name is required")
	}
	if in.SiteID == uuid.Nil || in.PositionID == uuid.Nil {
		return nil, Unchanged, fmt.Errorf("site and position are required")
	}

	var (
		out     *Personnel
		outcome Outcome
	)
	err := db.RetryOnConflict(ctx, conflictRetries, func(ctx context.Context) error {
		return s.inTx(ctx, func(ctx context.Context) error {
			var err error
			out, outcome, err = s.register(ctx, in)
			return err
		})
	})
	if err != nil {
		return nil, Unchanged, err
	}
	return out, outcome, nil
}

// register runs one attempt of Register. A concurrent registration of the
// same identity makes Create fail with a unique violation; the retry then
// finds the stored worker.
func (s *Service) register(ctx context.Context, in Registration) (*Personnel, Outcome, error) {
	existing, err := s.ByIdentity(ctx, in.Identity)
	if err != nil {
		return nil, Unchanged, err
	}
	if existing != nil {
		if existing.Name == in.Name && existing.SiteID == in.SiteID &&
			existing.Email == in.Email && existing.PositionID == in.PositionID {
			return existing, Unchanged, nil
		}
		existing.Name = in.Name
		existing.Email = in.Email
		existing.SiteID = in.SiteID
		existing.PositionID = in.PositionID
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, Unchanged, fmt.Errorf("update personnel: %w", err)
		}
		return existing, Updated, nil
	}

	c := &Contact{Name: in.Name, Identity: in.Identity}
	p := &Personnel{
		Name:       in.Name,
		SiteID:     in.SiteID,
		PositionID: in.PositionID,
		Email:      in.Email,
		Mobile:     in.Identity,
	}
	if err := s.repo.Create(ctx, c, p); err != nil {
		return nil, Unchanged, fmt.Errorf("create personnel: %w", err)
	}
	return p, Created, nil
}

// Recipients returns the mobiles of workers at the alert-level ancestors of
// site.
func (s *Service) Recipients(ctx context.Context, site *location.Location) ([]string, error) {
	ancestors, err := s.locations.Ancestors(ctx, site, s.alertTypes...)
	if err != nil {
		return nil, fmt.Errorf("resolve alert locations: %w", err)
	}
	if len(ancestors) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(ancestors))
	for i, a := range ancestors {
		ids[i] = a.ID
	}
	return s.repo.MobilesAt(ctx, ids)
}

// RecipientsForSites resolves recipients for several sites concurrently,
// keyed by site id. Sites whose lookup fails are left out of the map and
// their errors are joined into the returned error.
func (s *Service) RecipientsForSites(ctx context.Context, sites []*location.Location) (map[uuid.UUID][]string, error) {
	out := make([][]string, len(sites))
	errs := make([]error, len(sites))
	var g errgroup.Group
	g.SetLimit(recipientConcurrency)
	for i, site := range sites {
		i, site := i, site
		g.Go(func() error {
			r, err := s.Recipients(ctx, site)
			if err != nil {
				errs[i] = fmt.Errorf("site %s: %w", site.HCID, err)
				return nil
			}
			out[i] = r
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[uuid.UUID][]string, len(sites))
	for i, site := range sites {
		if errs[i] == nil {
			byID[site.ID] = out[i]
		}
	}
	return byID, errors.Join(errs...)
}

func (s *Service) ListBySite(ctx context.Context, siteID uuid.UUID, limit, offset int) ([]*Personnel, int, error) {
	return s.repo.ListBySite(ctx, siteID, limit, offset)
}
