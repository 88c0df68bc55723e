// Package sms turns inbound text messages into commands and produces the
// single reply each message gets.
package sms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/domain/report"
	"github.com/imam/imam/internal/platform/metrics"
	"github.com/imam/imam/internal/platform/translit"
)

// Outcome labels for the command counter.
const (
	outcomeOK      = "ok"
	outcomeHelp    = "help"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
	outcomeUnknown = "unknown"
)

// inbound is one message after the sender has been resolved. site is the
// sender's registered site and is nil when Sender is.
type inbound struct {
	Identity string
	Sender   *personnel.Personnel
	site     *location.Location
}

// command is one entry of the dispatch table.
type command struct {
	name     string
	keywords string // alternatives separated by |
	help     string
	// optionalPrefix lets the keyword match without the prefix in front.
	optionalPrefix bool
	// runEmpty runs the command even when nothing follows the keyword;
	// otherwise an empty remainder gets the help text.
	runEmpty bool
	run      func(ctx context.Context, in *inbound, text string) (string, error)
	pattern  *regexp.Regexp
}

func (c *command) keyword() string {
	return strings.SplitN(c.keywords, "|", 2)[0]
}

// Deps are the collaborators of a Router.
type Deps struct {
	Locations location.Repository
	Personnel *personnel.Service
	Reports   *report.Service
	Reference *reference.Registry
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Prefix    string
	SiteType  string
	// Location is the zone dates in replies are shown in.
	Location *time.Location
}

// Router matches each message against its commands in a fixed order and runs
// the first that matches.
type Router struct {
	locations location.Repository
	personnel *personnel.Service
	reports   *report.Service
	refs      *reference.Registry
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	validate  *validator.Validate

	prefix   string
	siteType string
	loc      *time.Location

	commands []*command
	bare     *regexp.Regexp
	siteID   *regexp.Regexp
}

func NewRouter(d Deps) *Router {
	if d.Prefix == "" {
		d.Prefix = "SAM"
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	r := &Router{
		locations: d.Locations,
		personnel: d.Personnel,
		reports:   d.Reports,
		refs:      d.Reference,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "sms-router").Logger(),
		validate:  validator.New(),
		prefix:    d.Prefix,
		siteType:  d.SiteType,
		loc:       d.Location,
		bare:      regexp.MustCompile(`(?i)^\s*(?:` + regexp.QuoteMeta(d.Prefix) + `)(\s*?)$`),
		siteID:    regexp.MustCompile(`(?i)^\s*siteid\s*$`),
	}

	r.commands = []*command{
		{name: "adm", keywords: "adm", help: helpAdm, run: r.admissions},
		{name: "ipf", keywords: "ipf", help: helpProgram, run: r.programReport(ipfReport)},
		{name: "otp", keywords: "otp", help: helpProgram, run: r.programReport(otpReport)},
		{name: "reg", keywords: "reg", help: helpReg, run: r.register},
		{name: "sfp", keywords: "sfp", help: helpProgram, run: r.programReport(sfpReport)},
		{name: "out", keywords: "out|0ut", help: helpStockOut, optionalPrefix: true, run: r.stockOut},
		{name: "sto", keywords: "sto|st0", help: helpStock, run: r.stockReport},
		{name: "help", keywords: "help", help: helpHelp, run: r.helpFor},
		{name: "siteid", keywords: "siteid", help: helpSiteID, runEmpty: true, run: r.siteIDFor},
	}
	for _, c := range r.commands {
		c.pattern = r.keywordPattern(c)
	}
	return r
}

func (r *Router) keywordPattern(c *command) *regexp.Regexp {
	prefix := `(?:` + regexp.QuoteMeta(r.prefix) + `)`
	if c.optionalPrefix {
		prefix += `?`
	}
	return regexp.MustCompile(`(?is)^\s*` + prefix + `\s*(?:` + c.keywords + `)(?:[\s,;:]+(.+))?$`)
}

// Handle produces the reply for one inbound message. It never fails: storage
// errors are logged and answered with the generic unclear message.
func (r *Router) Handle(ctx context.Context, identity, text string) string {
	start := time.Now()
	name, outcome, reply := r.dispatch(ctx, identity, text)
	r.metrics.RecordCommand(name, outcome, time.Since(start))
	r.logger.Debug().Str("command", name).Str("outcome", outcome).Str("identity", identity).Msg("sms handled")
	return translit.ASCII(reply)
}

func (r *Router) dispatch(ctx context.Context, identity, text string) (string, string, string) {
	text = strings.TrimSpace(text)
	for _, c := range r.commands {
		m := c.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		rest := strings.TrimSpace(m[1])
		if rest == "" && !c.runEmpty {
			return c.name, outcomeHelp, r.help(c)
		}

		in, err := r.resolve(ctx, identity)
		if err != nil {
			r.logger.Error().Err(err).Str("command", c.name).Str("identity", identity).Msg("resolve sender")
			return c.name, outcomeError, msgUnclear
		}
		reply, err := c.run(ctx, in, rest)
		var fe *FieldError
		switch {
		case errors.As(err, &fe):
			return c.name, outcomeInvalid, fe.Message
		case err != nil:
			r.logger.Error().Err(err).Str("command", c.name).Str("identity", identity).Msg("sms command failed")
			return c.name, outcomeError, msgUnclear
		}
		return c.name, outcomeOK, reply
	}

	if r.bare.MatchString(text) {
		return "prefix", outcomeHelp, r.render(helpBare, "")
	}
	return "unknown", outcomeUnknown, msgUnclear
}

// resolve looks up the registered worker behind identity, if any, and the
// site they are registered at.
func (r *Router) resolve(ctx context.Context, identity string) (*inbound, error) {
	in := &inbound{Identity: identity}
	p, err := r.personnel.ByIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("find sender: %w", err)
	}
	if p == nil {
		return in, nil
	}
	site, err := r.locations.GetByID(ctx, p.SiteID)
	if err != nil {
		return nil, fmt.Errorf("load site of %s: %w", p.ID, err)
	}
	in.Sender = p
	in.site = site
	return in, nil
}

func (r *Router) help(c *command) string {
	return r.render(c.help, c.keyword())
}

func (r *Router) render(tmpl, keyword string) string {
	return strings.NewReplacer(
		"{prefix}", strings.ToUpper(r.prefix),
		"{keyword}", strings.ToUpper(keyword),
	).Replace(tmpl)
}

// lookupSite returns the location with code, or nil when there is none.
func (r *Router) lookupSite(ctx context.Context, code string) (*location.Location, error) {
	l, err := r.locations.GetByCode(ctx, code)
	if errors.Is(err, location.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup location %q: %w", code, err)
	}
	return l, nil
}

// popSite removes the last word when it is a location code.
func (r *Router) popSite(ctx context.Context, words []string) ([]string, *location.Location, error) {
	if len(words) == 0 {
		return words, nil, nil
	}
	l, err := r.lookupSite(ctx, words[len(words)-1])
	if err != nil || l == nil {
		return words, nil, err
	}
	return words[:len(words)-1], l, nil
}

// scopedSite applies the jurisdiction rule for stock commands: a named site
// must be the sender's site or below it, and no site means the sender's own.
func (r *Router) scopedSite(in *inbound, site *location.Location) (*location.Location, error) {
	if site == nil {
		site = in.site
	} else if !in.site.IsAncestorOf(site, true) {
		return nil, invalid("site_id", msgSiteInvalid)
	}
	if !site.IsSite(r.siteType) {
		return nil, invalid("site_id", msgSiteInvalid)
	}
	return site, nil
}

// reportSite validates the site of a program report or admission query.
// Program data is only accepted for numbered sites.
func (r *Router) reportSite(ctx context.Context, in *inbound, raw string) (*location.Location, error) {
	var site *location.Location
	if raw != "" {
		l, err := r.lookupSite(ctx, raw)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, invalid("site_id", msgSiteMissing)
		}
		site = l
	} else {
		if in.Sender == nil {
			return nil, invalid("site_id", msgUnregistered)
		}
		site = in.site
	}

	if !site.IsSite(r.siteType) || !isDigits(site.HCID) {
		return nil, invalid("site_id", msgSiteInvalid)
	}
	if in.Sender == nil {
		return nil, invalid("site_id", msgUnregistered)
	}
	if !in.site.IsAncestorOf(site, true) {
		return nil, invalid("site_id", msgSiteInvalid)
	}
	return site, nil
}

func requireSender(in *inbound) func(context.Context) error {
	return func(context.Context) error {
		if in.Sender == nil {
			return invalid("", msgUnregistered)
		}
		return nil
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
