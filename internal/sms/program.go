package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/domain/report"
)

// programLetters maps the second letter of an ADM report type to a program.
var programLetters = map[byte]string{'i': "IPF", 'o': "OTP", 'm': "SFP"}

var admissionFields = []string{"site_id", "report_type_spec", "group_code", "period_spec"}

// admissions handles ADM SITE-ID REPORT-TYPE GROUP-CODE [PERIOD], a read-only
// check of what a site has reported.
func (r *Router) admissions(ctx context.Context, in *inbound, text string) (string, error) {
	data := zip(admissionFields, strings.Fields(strings.ToLower(text)))

	var (
		site    *location.Location
		program *reference.Program
		group   *reference.PatientGroup
		period  int
	)
	f := form{
		fields: []field{
			{name: "site_id", required: true, clean: func(ctx context.Context, raw string) error {
				s, err := r.reportSite(ctx, in, raw)
				site = s
				return err
			}},
			{name: "report_type_spec", required: true, clean: func(_ context.Context, raw string) error {
				if len(raw) < 2 {
					return invalid("report_type_spec", msgCommand)
				}
				code, ok := programLetters[raw[1]]
				if !ok {
					return invalid("report_type_spec", msgCommand)
				}
				if program = r.refs.Program(code); program == nil {
					return invalid("report_type_spec", msgCommand)
				}
				return nil
			}},
			{name: "group_code", required: true, clean: r.groupField(&group)},
			{name: "period_spec", clean: func(_ context.Context, raw string) error {
				if raw == "" {
					return nil
				}
				n, err := report.ParsePeriodSpec(raw)
				if err != nil {
					return invalid("period_spec", msgPeriod)
				}
				period = n
				return nil
			}},
		},
		clean: requireSender(in),
	}
	if err := f.validate(ctx, data); err != nil {
		return "", err
	}

	k := report.Key{SiteID: site.ID, ProgramID: program.ID, GroupID: group.ID}
	var (
		rep *report.ProgramReport
		err error
	)
	if period > 0 {
		rep, err = r.reports.FindForPeriod(ctx, k, period)
	} else {
		rep, err = r.reports.Latest(ctx, k)
	}
	if err != nil {
		return "", fmt.Errorf("find report for %s: %w", site.HCID, err)
	}
	if rep == nil {
		return fmt.Sprintf(fmtNoReports, site.HCID), nil
	}
	s := rep.Summary("", site.Name)
	return fmt.Sprintf(fmtAdmissions, s.PeriodName, s.Atot, s.Dcur, s.Dead, s.DefT, s.Dmed, s.Tout, s.End, s.SiteName), nil
}

func (r *Router) groupField(dst **reference.PatientGroup) func(context.Context, string) error {
	return func(_ context.Context, raw string) error {
		g := r.refs.Group(raw)
		if g == nil {
			return invalid("group_code", msgCommand)
		}
		*dst = g
		return nil
	}
}

// programKind describes one of the program report commands. positions is the
// order fields appear in the message; validation always follows countFields.
type programKind struct {
	program      string
	positions    []string
	admissionMsg string
}

var (
	sfpReport = programKind{
		program: "SFP",
		positions: []string{"group_code", "period_spec", "new_marasma_admissions",
			"new_relapsed_admissions", "transfers_in", "cures", "deaths",
			"unconfirmed_defaults", "non_responses", "transfers_out", "site_id"},
		admissionMsg: msgAnthropometry,
	}
	otpReport = programKind{
		program: "OTP",
		positions: []string{"group_code", "period_spec", "new_marasma_admissions",
			"new_relapsed_admissions", "readmissions", "transfers_in", "cures", "deaths",
			"unconfirmed_defaults", "non_responses", "transfers_out", "site_id"},
		admissionMsg: msgOTPAdmission,
	}
	ipfReport = programKind{
		program: "IPF",
		positions: []string{"group_code", "period_spec", "new_marasma_admissions",
			"new_oedema_admissions", "new_relapsed_admissions", "readmissions",
			"transfers_in", "cures", "deaths", "unconfirmed_defaults", "non_responses",
			"transfers_out", "site_id"},
		admissionMsg: msgAnthropometry,
	}
)

type countField struct {
	name string
	msg  string
	dst  func(c *report.Counts) **int
}

var countFields = []countField{
	{"new_marasma_admissions", msgAnthropometry, func(c *report.Counts) **int { return &c.NewMarasmic }},
	{"new_oedema_admissions", msgOedema, func(c *report.Counts) **int { return &c.NewOedema }},
	{"new_relapsed_admissions", msgRelapsed, func(c *report.Counts) **int { return &c.NewRelapsed }},
	{"hiv_positive_admissions", msgHIV, func(c *report.Counts) **int { return &c.HIVPositive }},
	{"readmissions", msgReadmissions, func(c *report.Counts) **int { return &c.Readmitted }},
	{"transfers_in", msgTransferIn, func(c *report.Counts) **int { return &c.TransferredIn }},
	{"transfers_out", msgTransferOut, func(c *report.Counts) **int { return &c.TransferredOut }},
	{"deaths", msgDeaths, func(c *report.Counts) **int { return &c.Deaths }},
	{"confirmed_defaults", msgDefaults, func(c *report.Counts) **int { return &c.ConfirmedDefaults }},
	{"unconfirmed_defaults", msgDefaults, func(c *report.Counts) **int { return &c.UnconfirmedDefaults }},
	{"non_responses", msgNoResponse, func(c *report.Counts) **int { return &c.Unresponsive }},
	{"cures", msgCures, func(c *report.Counts) **int { return &c.Cured }},
}

// programReport builds the handler for SFP, OTP and IPF reports.
func (r *Router) programReport(kind programKind) func(context.Context, *inbound, string) (string, error) {
	return func(ctx context.Context, in *inbound, text string) (string, error) {
		words := strings.Fields(strings.ToUpper(text))
		words, named, err := r.popSite(ctx, words)
		if err != nil {
			return "", err
		}
		data := zip(kind.positions, words)
		if named != nil {
			data["site_id"] = named.HCID
		}

		var (
			sub    report.Submission
			counts report.Counts
		)
		fields := []field{
			{name: "group_code", required: true, clean: r.groupField(&sub.Group)},
			{name: "period_spec", required: true, clean: func(_ context.Context, raw string) error {
				n, err := report.ParsePeriodSpec(raw)
				if err != nil {
					return invalid("period_spec", msgPeriod)
				}
				sub.Period = n
				return nil
			}},
		}
		for _, cf := range countFields {
			cf := cf
			// admissions are the one counter a report must carry
			admissions := cf.name == "new_marasma_admissions"
			if admissions {
				cf.msg = kind.admissionMsg
			}
			fields = append(fields, field{name: cf.name, required: admissions, clean: func(_ context.Context, raw string) error {
				n, ok := parseCount(raw)
				if !ok {
					return invalid(cf.name, cf.msg)
				}
				*cf.dst(&counts) = n
				return nil
			}})
		}
		fields = append(fields, field{name: "site_id", clean: func(ctx context.Context, raw string) error {
			s, err := r.reportSite(ctx, in, raw)
			sub.Site = s
			return err
		}})

		f := form{fields: fields, clean: requireSender(in)}
		if err := f.validate(ctx, data); err != nil {
			return "", err
		}

		if !r.reports.GroupAllowed(sub.Group) {
			return fmt.Sprintf(fmtGroupDenied, sub.Group.Name), nil
		}
		sub.Program = r.refs.Program(kind.program)
		if sub.Program == nil {
			return "", fmt.Errorf("program %s is not configured", kind.program)
		}
		sub.Reporter = in.Sender
		sub.Counts = counts

		rep, err := r.reports.SubmitProgramReport(ctx, sub)
		if errors.Is(err, report.ErrGroupNotAllowed) {
			return fmt.Sprintf(fmtGroupDenied, sub.Group.Name), nil
		}
		if err != nil {
			return "", fmt.Errorf("submit %s report for %s: %w", kind.program, sub.Site.HCID, err)
		}
		s := rep.Summary(in.Sender.Name, sub.Site.Name)
		return fmt.Sprintf(fmtProgramReport, s.Name, s.PeriodName, s.Atot, s.Dcur, s.Dead, s.DefT, s.Dmed, s.Tout, s.SiteName), nil
	}
}
