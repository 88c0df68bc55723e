package sms

import (
	"context"
	"strconv"
	"strings"
)

// FieldError is a validation failure the sender gets back verbatim. Field is
// empty for checks that span several fields.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message }

func invalid(field, msg string) *FieldError {
	return &FieldError{Field: field, Message: msg}
}

// field is one named value of a command. clean sees the trimmed raw value,
// "" when the sender left it out.
type field struct {
	name        string
	required    bool
	requiredMsg string
	clean       func(ctx context.Context, raw string) error
}

// form validates fields in declaration order and stops at the first failure.
// clean runs only after every field passed.
type form struct {
	fields []field
	clean  func(ctx context.Context) error
}

func (f form) validate(ctx context.Context, data map[string]string) error {
	for _, fd := range f.fields {
		raw := strings.TrimSpace(data[fd.name])
		if raw == "" && fd.required {
			msg := fd.requiredMsg
			if msg == "" {
				msg = msgRequired
			}
			return invalid(fd.name, msg)
		}
		if fd.clean == nil {
			continue
		}
		if err := fd.clean(ctx, raw); err != nil {
			return err
		}
	}
	if f.clean != nil {
		return f.clean(ctx)
	}
	return nil
}

// zip maps words onto names positionally. Names without a word are left out
// and surplus words are dropped.
func zip(names, words []string) map[string]string {
	out := make(map[string]string, len(names))
	for i, name := range names {
		if i >= len(words) {
			break
		}
		out[name] = words[i]
	}
	return out
}

// parseCount reads a patient counter. An empty value or the literal "x"
// means no figure was given.
func parseCount(raw string) (*int, bool) {
	if raw == "" || strings.EqualFold(raw, "x") {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	return &n, true
}

// chunk splits words into groups of n; the last group may be short.
func chunk(words []string, n int) [][]string {
	var out [][]string
	for len(words) > 0 {
		end := n
		if end > len(words) {
			end = len(words)
		}
		out = append(out, words[:end])
		words = words[end:]
	}
	return out
}

// capitalize upper-cases the first letter of each word and lower-cases the
// rest.
func capitalize(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		}
		out[i] = string(r)
	}
	return strings.Join(out, " ")
}
