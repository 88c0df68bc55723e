package sms

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/domain/report"
)

const wordsPerStockEntry = 3

var stockFields = []string{"item_code", "last_receipt", "current_stock"}

func (r *Router) itemField(dst **reference.Item) field {
	return field{name: "item_code", required: true, clean: func(_ context.Context, raw string) error {
		item := r.refs.Item(raw)
		if item == nil {
			return invalid("item_code", msgStockCode)
		}
		*dst = item
		return nil
	}}
}

func quantityField(name string, dst *int) field {
	return field{name: name, required: true, requiredMsg: msgStockFormat, clean: func(_ context.Context, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return invalid(name, msgStockFormat)
		}
		*dst = n
		return nil
	}}
}

// stockReport handles STO (ITEM RECEIVED CURRENT)* [SITE-ID]. A message with
// no item groups asks for the site's latest stock report instead.
func (r *Router) stockReport(ctx context.Context, in *inbound, text string) (string, error) {
	if in.Sender == nil {
		return "", invalid("", msgUnregistered)
	}

	words := strings.Fields(strings.ToUpper(text))
	var named *location.Location
	if len(words)%wordsPerStockEntry != 0 {
		var err error
		if words, named, err = r.popSite(ctx, words); err != nil {
			return "", err
		}
	}

	entries := make([]report.StockEntry, 0, len(words)/wordsPerStockEntry)
	for _, group := range chunk(words, wordsPerStockEntry) {
		var e report.StockEntry
		f := form{fields: []field{
			r.itemField(&e.Item),
			quantityField("last_receipt", &e.LastReceived),
			quantityField("current_stock", &e.CurrentStock),
		}}
		if err := f.validate(ctx, zip(stockFields, group)); err != nil {
			return "", err
		}
		entries = append(entries, e)
	}

	site, err := r.scopedSite(in, named)
	if err != nil {
		return "", err
	}

	if len(entries) == 0 {
		latest, err := r.reports.LatestStockReport(ctx, site.ID)
		if err != nil {
			return "", fmt.Errorf("latest stock report for %s: %w", site.HCID, err)
		}
		if latest == nil {
			return fmt.Sprintf(fmtNoReports, site.HCID), nil
		}
		return fmt.Sprintf(fmtStockStatus, site.Name, latest.Holdings(), latest.Created.In(r.loc).Format(stockStatusFmt)), nil
	}

	if _, err := r.reports.SubmitStockReport(ctx, site, in.Sender, entries); err != nil {
		return "", fmt.Errorf("submit stock report for %s: %w", site.HCID, err)
	}
	return fmt.Sprintf(fmtStockThanks, in.Sender.Name, site.Name), nil
}

// stockOut handles OUT ITEM... [SITE-ID]. Codes are a set; one bad code
// rejects the whole message.
func (r *Router) stockOut(ctx context.Context, in *inbound, text string) (string, error) {
	if in.Sender == nil {
		return "", invalid("", msgUnregistered)
	}

	words, named, err := r.popSite(ctx, strings.Fields(strings.ToUpper(text)))
	if err != nil {
		return "", err
	}
	codes := uniqueSorted(words)

	items := make([]*reference.Item, 0, len(codes))
	for _, code := range codes {
		var item *reference.Item
		f := form{fields: []field{r.itemField(&item)}}
		if err := f.validate(ctx, map[string]string{"item_code": code}); err != nil {
			return "", err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return r.render(helpStockOut, "out"), nil
	}

	site, err := r.scopedSite(in, named)
	if err != nil {
		return "", err
	}

	so, err := r.reports.CreateStockOut(ctx, site, in.Sender, items)
	if err != nil {
		return "", fmt.Errorf("record stock out for %s: %w", site.HCID, err)
	}
	return fmt.Sprintf(fmtStockOut, strings.Join(codes, ", "), site.Name, site.ParentName(), so.Created.In(r.loc).Format(stockOutFmt)), nil
}

func uniqueSorted(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
