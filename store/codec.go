package store

import (
	"encoding/json"
	"fmt"

	"github.com/clbanning/mxj/v2"
)

// Encode a record for storage
func Encode(rec StreamRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// Decode a stored record
func Decode(data []byte) (StreamRecord, error) {
	var rec StreamRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("corrupt stream record. %w", err)
	}
	return rec, nil
}

// MarshalStreams renders records the way restconf-state/streams reads,
// as JSON or as XML when xml is set.
func MarshalStreams(recs []StreamRecord, xml bool) ([]byte, error) {
	if recs == nil {
		recs = []StreamRecord{}
	}
	doc := map[string]any{
		"streams": map[string]any{
			"stream": recs,
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if !xml {
		return data, nil
	}
	m, err := mxj.NewMapJson(data)
	if err != nil {
		return nil, err
	}
	return m.Xml()
}
