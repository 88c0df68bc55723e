package location

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, l *Location) error
	GetByID(ctx context.Context, id uuid.UUID) (*Location, error)
	// GetByCode matches hcid case-insensitively.
	GetByCode(ctx context.Context, code string) (*Location, error)
	// Ancestors returns the ancestors of l whose type is one of typeCodes,
	// nearest first. No typeCodes returns every ancestor.
	Ancestors(ctx context.Context, l *Location, typeCodes ...string) ([]*Location, error)
	// Descendants returns the locations under l of the given type.
	Descendants(ctx context.Context, l *Location, typeCode string, limit, offset int) ([]*Location, int, error)
}
