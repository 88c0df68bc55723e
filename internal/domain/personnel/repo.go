package personnel

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByIdentity(ctx context.Context, identity string) (*Personnel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Personnel, error)
	// Create stores the contact and the worker in one transaction.
	Create(ctx context.Context, c *Contact, p *Personnel) error
	Update(ctx context.Context, p *Personnel) error
	// MobilesAt returns the mobile numbers of workers registered at any of
	// the given locations.
	MobilesAt(ctx context.Context, locationIDs []uuid.UUID) ([]string, error)
	ListBySite(ctx context.Context, siteID uuid.UUID, limit, offset int) ([]*Personnel, int, error)
}
