package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/platform/notification"
)

// notifyStockOut hands the stock-out alert to the notifier. Failures are
// logged; the stock-out itself is already committed.
func (s *Service) notifyStockOut(ctx context.Context, site *location.Location, so *StockOutReport) {
	if s.notifier == nil {
		return
	}
	recipients, err := s.recipients.Recipients(ctx, site)
	if err == nil {
		err = s.sendStockOut(ctx, site, so, recipients)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("site", site.HCID).Msg("stock-out notification")
	}
}

func (s *Service) notifyLowStock(ctx context.Context, site *location.Location, a *LowStockAlert) {
	if s.notifier == nil {
		return
	}
	recipients, err := s.recipients.Recipients(ctx, site)
	if err == nil {
		err = s.sendLowStock(ctx, site, a, recipients)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("site", site.HCID).Msg("low stock notification")
	}
}

func (s *Service) sendStockOut(ctx context.Context, site *location.Location, so *StockOutReport, recipients []string) error {
	_, err := s.notifier.Notify(ctx, notification.TemplateStockOut, map[string]string{
		"items":     strings.Join(s.ItemCodes(so), ", "),
		"site_name": site.Name,
		"site_id":   site.HCID,
		"date":      so.Modified.In(s.policy.Location).Format(alertDate),
	}, recipients)
	return err
}

func (s *Service) sendLowStock(ctx context.Context, site *location.Location, a *LowStockAlert, recipients []string) error {
	item := s.refs.ItemByID(a.ItemID)
	if item == nil {
		return fmt.Errorf("unknown item %s", a.ItemID)
	}
	_, err := s.notifier.Notify(ctx, notification.TemplateLowStock, map[string]string{
		"item":      item.Code,
		"site_name": site.Name,
		"site_id":   site.HCID,
		"date":      a.Modified.In(s.policy.Location).Format(alertDate),
	}, recipients)
	return err
}

// SendReminders re-sends the notification of every open low-stock alert and
// stock-out. Recipients are resolved once per site. It returns how many were
// handed off; one failing site does not stop the others.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	alerts, err := s.stock.ListLowStockAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list low stock alerts: %w", err)
	}
	stockOuts, err := s.stock.ListStockOuts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stock-outs: %w", err)
	}
	if s.notifier == nil {
		return 0, nil
	}

	var siteIDs []uuid.UUID
	for _, a := range alerts {
		siteIDs = appendUnique(siteIDs, a.SiteID)
	}
	for _, so := range stockOuts {
		siteIDs = appendUnique(siteIDs, so.SiteID)
	}
	sites := make(map[uuid.UUID]*location.Location, len(siteIDs))
	list := make([]*location.Location, 0, len(siteIDs))
	for _, id := range siteIDs {
		site, err := s.locations.GetByID(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("site_id", id.String()).Msg("reminder site")
			continue
		}
		sites[id] = site
		list = append(list, site)
	}
	recipients, err := s.recipients.RecipientsForSites(ctx, list)
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder recipients")
	}

	sent, failed := 0, 0
	remind := func(siteID uuid.UUID, send func(site *location.Location, to []string) error) {
		site, ok := sites[siteID]
		to, resolved := recipients[siteID]
		if !ok || !resolved {
			failed++
			return
		}
		if err := send(site, to); err != nil {
			failed++
			s.logger.Error().Err(err).Str("site", site.HCID).Msg("reminder")
			return
		}
		sent++
	}
	for _, a := range alerts {
		a := a
		remind(a.SiteID, func(site *location.Location, to []string) error { return s.sendLowStock(ctx, site, a, to) })
	}
	for _, so := range stockOuts {
		so := so
		remind(so.SiteID, func(site *location.Location, to []string) error { return s.sendStockOut(ctx, site, so, to) })
	}

	s.logger.Info().Int("sent", sent).Int("failed", failed).Msg("reminders dispatched")
	if failed > 0 {
		return sent, fmt.Errorf("%d reminders failed", failed)
	}
	return sent, nil
}
