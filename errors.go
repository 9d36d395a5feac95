package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freeconf/yang/fc"
)

// ErrorTag follows the error-tag values of RFC8040 7
type ErrorTag string

const (
	TagInvalidValue    ErrorTag = "invalid-value"
	TagDataMissing     ErrorTag = "data-missing"
	TagOperationFailed ErrorTag = "operation-failed"
)

var (
	ErrUnknownModule       = errors.New("refers to an unknown module")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrNotNotification     = errors.New("refers to a non-notification")
	ErrNoNotifications     = errors.New("no notifications specified")
	ErrNoPath              = errors.New("no path specified")
	ErrNotListEntry        = errors.New("path does not refer to a list item")
	ErrMultipleKeys        = errors.New("target list uses multiple keys")
	ErrNoMountPoint        = errors.New("mount point not available")
	ErrUnsupported         = errors.New("device does not support notification")
	ErrAllocation          = errors.New("failed to allocate stream")
	ErrNameExhausted       = errors.New("could not find an unused stream name")
	ErrStreamNotFound      = errors.New("stream not found")
	ErrUnknownNode         = errors.New("refers to an unknown data node")
	ErrInvalidPayload      = errors.New("payload is not valid JSON")
)

// Error is what the broker reports for a rejected or failed request. Reason
// is one of the sentinels above so callers can test with errors.Is.
type Error struct {
	Tag    ErrorTag
	Reason error
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason.Error())
	if e.Detail != "" {
		b.WriteString(". ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(". ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the reason, the cause and the fc status so fc.HttpStatusCode
// picks the right response code.
func (e *Error) Unwrap() []error {
	errs := []error{e.Reason}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	switch {
	case errors.Is(e.Reason, ErrStreamNotFound):
		errs = append(errs, fc.NotFoundError)
	case e.Tag == TagInvalidValue || e.Tag == TagDataMissing:
		errs = append(errs, fc.BadRequestError)
	}
	return errs
}

func invalid(reason error, format string, args ...any) *Error {
	return &Error{Tag: TagInvalidValue, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func missing(reason error, format string, args ...any) *Error {
	return &Error{Tag: TagDataMissing, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func failed(reason error, cause error, format string, args ...any) *Error {
	return &Error{Tag: TagOperationFailed, Reason: reason, Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

// ErrorTagOf reports the tag of a broker error or derives one from the
// error's fc status.
func ErrorTagOf(err error) ErrorTag {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Tag
	}
	switch fc.HttpStatusCode(err) {
	case 400, 404:
		return TagInvalidValue
	case 409:
		return ErrorTag("in-use")
	case 401:
		return ErrorTag("access-denied")
	}
	return TagOperationFailed
}
