package stream

import (
	"fmt"
	"strings"

	"github.com/freeconf/yang/fc"
)

// Encoding of events delivered to subscribers
type Encoding int

const (
	EncodingXML Encoding = iota
	EncodingJSON
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	}
	return "xml"
}

// ParseEncoding accepts "xml" or "json" in any case. Empty means XML.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xml":
		return EncodingXML, nil
	case "json":
		return EncodingJSON, nil
	}
	return EncodingXML, fmt.Errorf("%w. unknown encoding '%s'", fc.BadRequestError, s)
}

// Datastore partition watched by a change stream
type Datastore int

const (
	Configuration Datastore = iota
	Operational
)

func (d Datastore) String() string {
	if d == Operational {
		return "OPERATIONAL"
	}
	return "CONFIGURATION"
}

// ParseDatastore accepts CONFIGURATION or OPERATIONAL in any case. Empty
// means CONFIGURATION.
func ParseDatastore(s string) (Datastore, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CONFIGURATION":
		return Configuration, nil
	case "OPERATIONAL":
		return Operational, nil
	}
	return Configuration, fmt.Errorf("%w. unknown datastore '%s'", fc.BadRequestError, s)
}
