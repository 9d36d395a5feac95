package stream

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
)

func getWireFormatter(enc Encoding) wireFormat {
	if enc == EncodingJSON {
		return jsonWireFormat(0)
	}
	return xmlWireFormat(0)
}

type wireFormat interface {
	writeNotification(w io.Writer, etime string, body string) error
}

type jsonWireFormat int

func (jsonWireFormat) writeNotification(w io.Writer, etime string, body string) error {
	_, err := fmt.Fprintf(w, `{"ietf-restconf:notification":{"eventTime":"%s","event":%s}}`, etime, body)
	return err
}

type xmlWireFormat int

func (xmlWireFormat) writeNotification(w io.Writer, etime string, body string) error {
	m, err := mxj.NewMapJson([]byte(body))
	if err != nil {
		return err
	}
	event, err := m.Xml("event")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, `<notification xmlns="urn:ietf:params:xml:ns:netconf:notification:1.0"><eventTime>%s</eventTime>%s</notification>`, etime, event)
	return err
}

// FormatEvent renders one notification in the given encoding
func FormatEvent(enc Encoding, etime time.Time, event *node.Selection) (string, error) {
	body, err := nodeutil.WriteJSON(event)
	if err != nil {
		return "", err
	}
	return formatBody(enc, etime, body)
}

func formatBody(enc Encoding, etime time.Time, body string) (string, error) {
	var buf strings.Builder
	if err := getWireFormatter(enc).writeNotification(&buf, etime.Format(time.RFC3339), body); err != nil {
		return "", err
	}
	return buf.String(), nil
}
