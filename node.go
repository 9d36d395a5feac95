package broker

import (
	"context"
	"fmt"

	"github.com/freeconf/broker/async"
	"github.com/freeconf/broker/store"
	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
	"github.com/freeconf/yang/val"
)

type contextKey int

// BaseLocationKey holds the base stream location of the request in the
// selection context. RPCs that create streams need it.
const BaseLocationKey contextKey = 0

// WithBaseLocation puts the base stream location in ctx
func WithBaseLocation(ctx context.Context, base string) context.Context {
	return context.WithValue(ctx, BaseLocationKey, base)
}

// Manage is the implementation of fc-broker.yang
func Manage(b *Broker, st store.Store) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "restconf-state":
				return restconfStateNode(st), nil
			}
			return nil, nil
		},
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "debug":
				if r.Write {
					fc.DebugLog(hnd.Val.Value().(bool))
				} else {
					hnd.Val = val.Bool(fc.DebugLogEnabled())
				}
			case "stream-count":
				hnd.Val = val.Int32(b.Registry().Len())
			}
			return nil
		},
		OnAction: func(r node.ActionRequest) (node.Node, error) {
			ctx := r.Selection.Context
			base, _ := ctx.Value(BaseLocationKey).(string)
			switch r.Meta.Ident() {
			case "create-data-change-event-subscription":
				return createChangeStream(ctx, b, base, r.Input)
			case "create-notification-stream":
				return createNotificationStream(ctx, b, base, r.Input)
			case "subscribe-device-notification":
				return subscribeDevice(ctx, b, base, r.Input)
			case "remove-stream":
				name, err := inputString(r.Input, "name")
				if err != nil {
					return nil, err
				}
				s, found := b.LookupStream(name)
				if !found {
					return nil, &Error{Tag: TagInvalidValue, Reason: ErrStreamNotFound, Detail: name}
				}
				_, err = b.RemoveStream(s).Await(ctx)
				return nil, err
			case "publish-data-change":
				return publishChange(b, r.Input)
			case "publish-notification":
				return nil, publishNotification(b, r.Input)
			}
			return nil, nil
		},
	}
}

func createChangeStream(ctx context.Context, b *Broker, base string, in *node.Selection) (node.Node, error) {
	var input ChangeStreamInput
	raw, err := inputStrings(in, "path", "datastore", "notification-output-type", "description")
	if err != nil {
		return nil, err
	}
	if input.Path, err = stream.ParsePath(raw[0]); err != nil {
		return nil, err
	}
	if err = b.CheckDataPath(input.Path); err != nil {
		return nil, err
	}
	if input.Datastore, err = stream.ParseDatastore(raw[1]); err != nil {
		return nil, err
	}
	if input.Encoding, err = stream.ParseEncoding(raw[2]); err != nil {
		return nil, err
	}
	input.Description = raw[3]
	created, err := b.CreateChangeStream(base, input)
	if err != nil {
		return nil, err
	}
	s, err := awaitCreated(ctx, b, created)
	if err != nil {
		return nil, err
	}
	return outputNode("stream-name", s.Name()), nil
}

func createNotificationStream(ctx context.Context, b *Broker, base string, in *node.Selection) (node.Node, error) {
	var input NotificationStreamInput
	notifs, err := inputStringList(in, "notifications")
	if err != nil {
		return nil, err
	}
	input.Notifications = notifs
	enc, err := inputString(in, "notification-output-type")
	if err != nil {
		return nil, err
	}
	if input.Encoding, err = stream.ParseEncoding(enc); err != nil {
		return nil, err
	}
	created, err := b.CreateNotificationStream(base, input)
	if err != nil {
		return nil, err
	}
	s, err := awaitCreated(ctx, b, created)
	if err != nil {
		return nil, err
	}
	return outputNode("stream-name", s.Name()), nil
}

func subscribeDevice(ctx context.Context, b *Broker, base string, in *node.Selection) (node.Node, error) {
	var input DeviceNotificationInput
	raw, err := inputStrings(in, "path", "notification-output-type")
	if err != nil {
		return nil, err
	}
	if input.Path, err = stream.ParsePath(raw[0]); err != nil {
		return nil, err
	}
	if input.Encoding, err = stream.ParseEncoding(raw[1]); err != nil {
		return nil, err
	}
	created, err := b.CreateDeviceNotificationStream(base, input)
	if err != nil {
		return nil, err
	}
	s, err := awaitCreated(ctx, b, created)
	if err != nil {
		return nil, err
	}
	return outputNode("stream-path", Location(base, s.Name())), nil
}

// awaitCreated waits for a stream to be created. Should the caller stop
// waiting, a stream created later is removed since nobody learns its name.
func awaitCreated(ctx context.Context, b *Broker, created *async.Future[stream.Stream]) (stream.Stream, error) {
	s, err := created.Await(ctx)
	if err != nil && ctx.Err() != nil {
		created.OnComplete(func(s stream.Stream, err error) {
			if err == nil {
				fc.Debug.Printf("stream %s abandoned by its creator", s.Name())
				b.RemoveStream(s)
			}
		})
	}
	return s, err
}

func publishChange(b *Broker, in *node.Selection) (node.Node, error) {
	raw, err := inputStrings(in, "path", "datastore", "data")
	if err != nil {
		return nil, err
	}
	path, err := stream.ParsePath(raw[0])
	if err != nil {
		return nil, err
	}
	ds, err := stream.ParseDatastore(raw[1])
	if err != nil {
		return nil, err
	}
	n, err := b.PublishChange(ds, path, raw[2])
	if err != nil {
		return nil, err
	}
	return &nodeutil.Basic{
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			if r.Meta.Ident() == "stream-count" {
				hnd.Val = val.Int32(n)
			}
			return nil
		},
	}, nil
}

func publishNotification(b *Broker, in *node.Selection) error {
	raw, err := inputStrings(in, "path", "notification", "data")
	if err != nil {
		return err
	}
	mount, err := stream.ParsePath(raw[0])
	if err != nil {
		return err
	}
	return b.PublishNotification(mount, raw[1], raw[2])
}

func outputNode(ident string, v string) node.Node {
	return &nodeutil.Basic{
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			if r.Meta.Ident() == ident {
				hnd.Val = val.String(v)
			}
			return nil
		},
	}
}

func inputValue(in *node.Selection, ident string) (val.Value, error) {
	if in == nil {
		return nil, nil
	}
	sel, err := in.Find(ident)
	if err != nil || sel == nil {
		return nil, err
	}
	return sel.Get()
}

// inputString reads an optional leaf, empty if it is not set
func inputString(in *node.Selection, ident string) (string, error) {
	v, err := inputValue(in, ident)
	if err != nil || v == nil {
		return "", err
	}
	return v.String(), nil
}

func inputStrings(in *node.Selection, idents ...string) ([]string, error) {
	vals := make([]string, len(idents))
	for i, ident := range idents {
		var err error
		if vals[i], err = inputString(in, ident); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func inputStringList(in *node.Selection, ident string) ([]string, error) {
	v, err := inputValue(in, ident)
	if err != nil || v == nil {
		return nil, err
	}
	switch x := v.Value().(type) {
	case []string:
		return x, nil
	case string:
		return []string{x}, nil
	}
	return nil, fmt.Errorf("%w. %s expected to be a list of strings", fc.BadRequestError, ident)
}

func restconfStateNode(st store.Store) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "streams":
				recs, err := st.List(r.Selection.Context)
				if err != nil {
					return nil, err
				}
				return &nodeutil.Basic{
					OnChild: func(r node.ChildRequest) (node.Node, error) {
						if r.Meta.Ident() == "stream" {
							return streamRecordsNode(recs), nil
						}
						return nil, nil
					},
				}, nil
			}
			return nil, nil
		},
	}
}

func streamRecordsNode(recs []store.StreamRecord) node.Node {
	return &nodeutil.Basic{
		OnNext: func(r node.ListRequest) (node.Node, []val.Value, error) {
			key := r.Key
			var found *store.StreamRecord
			if key != nil {
				name := key[0].String()
				for i := range recs {
					if recs[i].Name == name {
						found = &recs[i]
						break
					}
				}
			} else if r.Row < len(recs) {
				found = &recs[r.Row]
				key = []val.Value{val.String(found.Name)}
			}
			if found != nil {
				return streamRecordNode(found), key, nil
			}
			return nil, nil, nil
		},
	}
}

func streamRecordNode(rec *store.StreamRecord) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "access":
				return accessListNode(rec.Access), nil
			}
			return nil, nil
		},
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "name":
				hnd.Val = val.String(rec.Name)
			case "description":
				hnd.Val = val.String(rec.Description)
			}
			return nil
		},
	}
}

func accessListNode(access []store.Access) node.Node {
	return &nodeutil.Basic{
		OnNext: func(r node.ListRequest) (node.Node, []val.Value, error) {
			key := r.Key
			var found *store.Access
			if key != nil {
				enc := key[0].String()
				for i := range access {
					if access[i].Encoding == enc {
						found = &access[i]
						break
					}
				}
			} else if r.Row < len(access) {
				found = &access[r.Row]
				key = []val.Value{val.String(found.Encoding)}
			}
			if found != nil {
				return accessNode(found), key, nil
			}
			return nil, nil, nil
		},
	}
}

func accessNode(a *store.Access) node.Node {
	return &nodeutil.Basic{
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "encoding":
				hnd.Val = val.String(a.Encoding)
			case "location":
				hnd.Val = val.String(a.Location)
			}
			return nil
		},
	}
}
