package transport

import (
	"strconv"
	"strings"

	"github.com/WhileEndless/go-icapclient/pkg/errors"
)

// Encapsulated section names
const (
	SectionReqHdr   = "req-hdr"
	SectionResHdr   = "res-hdr"
	SectionReqBody  = "req-body"
	SectionResBody  = "res-body"
	SectionOptBody  = "opt-body"
	SectionNullBody = "null-body"
)

// Section is one entry of the Encapsulated header
type Section struct {
	Name   string
	Offset int
}

// IsBody reports whether the section is a body (or the null-body marker)
func (s Section) IsBody() bool {
	switch s.Name {
	case SectionReqBody, SectionResBody, SectionOptBody, SectionNullBody:
		return true
	}
	return false
}

// ParseEncapsulated parses an Encapsulated header value such as
// "req-hdr=0, res-hdr=137, res-body=296". Offsets must not decrease and
// only the last section may be a body.
func ParseEncapsulated(value string) ([]Section, error) {
	var sections []Section
	last := -1

	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return nil, encapsulatedError("malformed entry "+strconv.Quote(part), value)
		}
		name := strings.ToLower(strings.TrimSpace(part[:eq]))
		offset, err := strconv.Atoi(strings.TrimSpace(part[eq+1:]))
		if err != nil || offset < 0 {
			return nil, encapsulatedError("invalid offset in "+strconv.Quote(part), value)
		}

		switch name {
		case SectionReqHdr, SectionResHdr, SectionReqBody, SectionResBody, SectionOptBody, SectionNullBody:
		default:
			return nil, encapsulatedError("unknown section "+strconv.Quote(name), value)
		}
		if offset < last {
			return nil, encapsulatedError("offsets out of order", value)
		}
		if len(sections) > 0 && sections[len(sections)-1].IsBody() {
			return nil, encapsulatedError("body section is not last", value)
		}

		sections = append(sections, Section{Name: name, Offset: offset})
		last = offset
	}

	if len(sections) == 0 {
		return nil, encapsulatedError("no sections", value)
	}
	return sections, nil
}

// FormatEncapsulated renders sections as an Encapsulated header value
func FormatEncapsulated(sections []Section) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.Name + "=" + strconv.Itoa(s.Offset)
	}
	return strings.Join(parts, ", ")
}

func encapsulatedError(msg, value string) error {
	return errors.NewError(errors.ErrorTypeInvalidEncapsulated, msg, "Encapsulated", []byte(value))
}
