package stream

import (
	"fmt"
	"sort"
	"strings"

	"github.com/freeconf/yang/fc"
)

// QName is a module qualified schema identifier, e.g. "toaster:toast-done".
// Ident may be a schema path relative to the module, "a/b/notif".
type QName struct {
	Module string
	Ident  string
}

func ParseQName(s string) (QName, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "/")
	colon := strings.IndexRune(s, ':')
	if colon <= 0 || colon == len(s)-1 {
		return QName{}, fmt.Errorf("%w. expected module:identifier, got '%s'", fc.BadRequestError, s)
	}
	return QName{Module: s[:colon], Ident: s[colon+1:]}, nil
}

func (q QName) String() string {
	return q.Module + ":" + q.Ident
}

func (q QName) Less(o QName) bool {
	if q.Module != o.Module {
		return q.Module < o.Module
	}
	return q.Ident < o.Ident
}

// SortQNames sorts in place and drops duplicates
func SortQNames(qnames []QName) []QName {
	sort.Slice(qnames, func(i, j int) bool {
		return qnames[i].Less(qnames[j])
	})
	uniq := qnames[:0]
	for i, q := range qnames {
		if i == 0 || q != qnames[i-1] {
			uniq = append(uniq, q)
		}
	}
	return uniq
}
