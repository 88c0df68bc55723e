package sms

import (
	"context"
	"fmt"
)

// helpTopics are the commands HELP can describe.
var helpTopics = map[string]bool{
	"adm": true, "ipf": true, "otp": true, "reg": true,
	"sfp": true, "out": true, "sto": true,
}

// helpFor handles HELP COMMAND by replying with that command's help. HELP
// SITEID tells the sender where they are registered.
func (r *Router) helpFor(_ context.Context, in *inbound, text string) (string, error) {
	asCommand := r.prefix + " " + text
	for _, c := range r.commands {
		if helpTopics[c.name] && c.pattern.MatchString(asCommand) {
			return r.help(c), nil
		}
	}
	if r.siteID.MatchString(text) {
		return r.whereRegistered(in)
	}
	return "", invalid("", msgUnclear)
}

// siteIDFor handles a bare SITEID.
func (r *Router) siteIDFor(_ context.Context, in *inbound, text string) (string, error) {
	if text != "" {
		return "", invalid("", msgUnclear)
	}
	return r.whereRegistered(in)
}

func (r *Router) whereRegistered(in *inbound) (string, error) {
	if in.Sender == nil {
		return "", invalid("", msgUnregistered)
	}
	return fmt.Sprintf(fmtSiteID, in.Sender.Name, in.site.Name, in.site.HCID), nil
}
