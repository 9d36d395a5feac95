package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/freeconf/yang/fc"
)

// only call this when you know that no content has been sent to client
// otherwise go will emit error that you're trying to change header when
// it's too late.
func handleErr(err error, r *http.Request, w http.ResponseWriter) bool {
	if err == nil {
		return false
	}
	fc.Debug.Printf("web request error [%s] %s %s", r.Method, r.URL, err.Error())
	code := fc.HttpStatusCode(err)
	errResp := errResponse{
		Type:    "application",
		Tag:     string(ErrorTagOf(err)),
		Path:    r.URL.Path,
		Message: err.Error(),
	}
	var berr *Error
	if !errors.As(err, &berr) {
		errResp.Type = "protocol"
	}
	var buff bytes.Buffer
	fmt.Fprintf(&buff, `{"ietf-restconf:errors":{"error":[`)
	json.NewEncoder(&buff).Encode(&errResp)
	fmt.Fprintf(&buff, `]}}`)
	w.Header().Set("Content-Type", "application/yang-data+json")
	w.WriteHeader(code)
	w.Write(buff.Bytes())
	return true
}

// https://datatracker.ietf.org/doc/html/rfc8040#section-7.1
type errResponse struct {
	Type    string `json:"error-type"`
	Tag     string `json:"error-tag"`
	Path    string `json:"error-path,omitempty"`
	Message string `json:"error-message"`
}

func shift(orig *url.URL, delim rune) (string, *url.URL) {
	if orig.Path == "" {
		return "", orig
	}
	copy := *orig
	var segment string
	segment, copy.Path = shiftInString(copy.Path, delim)
	_, copy.RawPath = shiftInString(copy.RawPath, delim)
	return segment, &copy
}

func shiftInString(orig string, delim rune) (string, string) {
	termPos := strings.IndexRune(orig, delim)

	// ignore when path starts with the delim
	if termPos == 0 {
		orig = orig[1:]
		termPos = strings.IndexRune(orig, delim)
	}

	var shifted string
	var segment string
	if termPos < 0 {
		segment = orig
	} else {
		segment = orig[:termPos]
		shifted = orig[termPos+1:]
	}
	return segment, shifted
}

// wantsXml decides from the Accept header, json wins when both are listed
func wantsXml(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "xml") && !strings.Contains(accept, "json")
}
