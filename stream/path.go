package stream

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/freeconf/yang/fc"
)

// Segment is one step of an api-path. Keys are set for list entries.
type Segment struct {
	Module string
	Ident  string
	Keys   []string
}

func (s Segment) String() string {
	var b strings.Builder
	if s.Module != "" {
		b.WriteString(s.Module)
		b.WriteRune(':')
	}
	b.WriteString(s.Ident)
	if len(s.Keys) > 0 {
		b.WriteRune('=')
		for i, k := range s.Keys {
			if i > 0 {
				b.WriteRune(',')
			}
			b.WriteString(url.PathEscape(k))
		}
	}
	return b.String()
}

// Path is a RESTCONF api-path (RFC8040 3.5.3) into a data tree, e.g.
//
//	/network-topology:network-topology/topology=netconf/node=dev1
type Path []Segment

// ParsePath parses an api-path. Module prefixes are inherited by following
// segments until changed, but only the explicit ones are recorded.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return nil, nil
	}
	var p Path
	for _, raw := range strings.Split(s, "/") {
		if raw == "" {
			return nil, fmt.Errorf("%w. empty segment in path '%s'", fc.BadRequestError, s)
		}
		var seg Segment
		ident := raw
		if eq := strings.IndexRune(raw, '='); eq >= 0 {
			ident = raw[:eq]
			for _, k := range strings.Split(raw[eq+1:], ",") {
				key, err := url.PathUnescape(k)
				if err != nil {
					return nil, fmt.Errorf("%w. bad key in path '%s'. %s", fc.BadRequestError, s, err)
				}
				seg.Keys = append(seg.Keys, key)
			}
		}
		if colon := strings.IndexRune(ident, ':'); colon >= 0 {
			seg.Module = ident[:colon]
			ident = ident[colon+1:]
		}
		if ident == "" {
			return nil, fmt.Errorf("%w. missing identifier in path '%s'", fc.BadRequestError, s)
		}
		seg.Ident = ident
		p = append(p, seg)
	}
	if p[0].Module == "" {
		return nil, fmt.Errorf("%w. path '%s' must start with a module name", fc.BadRequestError, s)
	}
	return p, nil
}

func (p Path) String() string {
	var b strings.Builder
	for _, s := range p {
		b.WriteRune('/')
		b.WriteString(s.String())
	}
	return b.String()
}

func (p Path) Empty() bool {
	return len(p) == 0
}

// Last segment or a zero segment for an empty path
func (p Path) Last() Segment {
	if len(p) == 0 {
		return Segment{}
	}
	return p[len(p)-1]
}

// Module of the first segment
func (p Path) Module() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Module
}

// Contains is true when o is p or lies below it. Module prefixes are
// compared after inheritance, so /m:a/b and /m:a/m:b are the same.
func (p Path) Contains(o Path) bool {
	if len(p) > len(o) {
		return false
	}
	var pmod, omod string
	for i, seg := range p {
		if seg.Module != "" {
			pmod = seg.Module
		}
		if o[i].Module != "" {
			omod = o[i].Module
		}
		if pmod != omod || seg.Ident != o[i].Ident || !sameKeys(seg.Keys, o[i].Keys) {
			return false
		}
	}
	return true
}

// Overlaps is true when one path contains the other
func (p Path) Overlaps(o Path) bool {
	return p.Contains(o) || o.Contains(p)
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
