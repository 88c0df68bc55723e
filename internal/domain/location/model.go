package location

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("location not found")

// Location is a node in the administrative tree. Path lists the ids from the
// root down to and including this node, e.g. "/<root>/<state>/<this>/", so
// ancestry is a string prefix test.
type Location struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	ParentID  *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	Name      string     `db:"name" json:"name"`
	HCID      string     `db:"hcid" json:"hcid"`
	TypeCode  string     `db:"type_code" json:"type_code"`
	Path      string     `db:"path" json:"path"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`

	// Parent is populated by repository lookups that join the parent row.
	Parent *Location `db:"-" json:"parent,omitempty"`
}

// BuildPath returns the materialized path for a node with the given id under
// parent. A nil parent makes the node a root.
func BuildPath(parent *Location, id uuid.UUID) string {
	if parent == nil {
		return "/" + id.String() + "/"
	}
	return parent.Path + id.String() + "/"
}

// IsSite reports whether the location is a reporting site.
func (l *Location) IsSite(siteType string) bool {
	return strings.EqualFold(l.TypeCode, siteType)
}

// IsAncestorOf reports whether l is above other in the tree. With includeSelf
// a location counts as its own ancestor.
func (l *Location) IsAncestorOf(other *Location, includeSelf bool) bool {
	if l == nil || other == nil {
		return false
	}
	if l.ID == other.ID {
		return includeSelf
	}
	return l.Path != "" && strings.HasPrefix(other.Path, l.Path)
}

// AncestorIDs parses the path into ids from the root down, excluding l.
func (l *Location) AncestorIDs() []uuid.UUID {
	parts := strings.Split(strings.Trim(l.Path, "/"), "/")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil || id == l.ID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ParentName returns the parent's name, or "" for a root or an unjoined row.
func (l *Location) ParentName() string {
	if l.Parent == nil {
		return ""
	}
	return l.Parent.Name
}
