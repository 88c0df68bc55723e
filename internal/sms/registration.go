package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/reference"
)

// register handles REG SITE-ID Name Lastname Position [Email].
func (r *Router) register(ctx context.Context, in *inbound, text string) (string, error) {
	words := strings.Fields(text)
	data := map[string]string{"site_id": words[0]}
	words = words[1:]
	if n := len(words); n > 0 && strings.Contains(words[n-1], "@") {
		data["email"] = words[n-1]
		words = words[:n-1]
	}
	if n := len(words); n > 0 {
		data["position_code"] = words[n-1]
		words = words[:n-1]
	}
	data["name"] = capitalize(words)

	var (
		site     *location.Location
		position *reference.Position
	)
	f := form{
		fields: []field{
			{name: "site_id", required: true, clean: func(ctx context.Context, raw string) error {
				l, err := r.lookupSite(ctx, raw)
				if err != nil {
					return err
				}
				if l == nil {
					return invalid("site_id", msgSiteUnknown)
				}
				site = l
				return nil
			}},
			{name: "name", required: true, requiredMsg: msgRegFormat},
			{name: "position_code", required: true, requiredMsg: msgRegFormat, clean: func(_ context.Context, raw string) error {
				position = r.refs.Position(raw)
				if position == nil {
					return invalid("position_code", msgPosition)
				}
				return nil
			}},
			{name: "email", clean: func(_ context.Context, raw string) error {
				if raw == "" {
					return nil
				}
				if err := r.validate.Var(raw, "email"); err != nil {
					return invalid("email", msgEmail)
				}
				return nil
			}},
		},
		clean: func(context.Context) error {
			if position.LocTypeCode != "" && !strings.EqualFold(position.LocTypeCode, site.TypeCode) {
				return invalid("", msgRegLocation)
			}
			return nil
		},
	}
	if err := f.validate(ctx, data); err != nil {
		return "", err
	}

	p, outcome, err := r.personnel.Register(ctx, personnel.Registration{
		Identity:   in.Identity,
		Name:       data["name"],
		Email:      data["email"],
		SiteID:     site.ID,
		PositionID: position.ID,
	})
	if err != nil {
		return "", fmt.Errorf("register %s: %w", in.Identity, err)
	}
	if outcome == personnel.Unchanged {
		return fmt.Sprintf(fmtAlreadyReg, p.Name), nil
	}
	return fmt.Sprintf(fmtRegistered, p.Name, position.Description, site.Name, site.HCID, site.ParentName()), nil
}
