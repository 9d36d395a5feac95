// Package broker allocates RESTCONF event streams, keeps them in a registry
// and mirrors every live stream in the persisted restconf-state/streams
// list. Streams come in three kinds:
//
//   - data change streams over a subtree of a datastore
//   - YANG notification streams over a set of notifications
//   - device notification streams over everything a mounted device emits
//
// Creation validates first, then reserves a unique name and finally waits
// on the store. Callers get a future that only succeeds once the stream's
// record is committed.
package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freeconf/broker/async"
	"github.com/freeconf/broker/store"
	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/meta"
	"github.com/freeconf/yang/nodeutil"
)

type Options struct {
	// Names defaults to UUIDNames
	Names NameGenerator

	// Schema resolves identifiers of notification streams
	Schema Schema

	// Notifications is where notification streams subscribe. When it is a
	// Publisher, PublishNotification raises events on it too.
	Notifications stream.NotificationService

	// MountPoints resolves device notification stream paths
	MountPoints MountPointService
}

type Broker struct {
	registry      *Registry
	sync          *Synchronizer
	names         NameGenerator
	schema        Schema
	notifications stream.NotificationService
	mounts        MountPointService

	// cancels watching mount points, keyed by device notification stream
	unmounts sync.Map
}

func New(st store.Store, opts Options) *Broker {
	b := &Broker{
		registry:      NewRegistry(),
		names:         opts.Names,
		schema:        opts.Schema,
		notifications: opts.Notifications,
		mounts:        opts.MountPoints,
	}
	if b.names == nil {
		b.names = UUIDNames
	}
	if b.schema == nil {
		b.schema = noSchema{}
	}
	b.sync = NewSynchronizer(b.registry, st)
	return b
}

// Open clears records a previous process left in st, then returns a
// broker over it. Use it over New with a durable store.
func Open(ctx context.Context, st store.Store, opts Options) (*Broker, error) {
	n, err := store.Purge(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("could not clear streams of a previous run. %w", err)
	}
	if n > 0 {
		fc.Info.Printf("removed %d streams left by a previous run", n)
	}
	return New(st, opts), nil
}

type noSchema struct{}

func (noSchema) Modules() map[string]*meta.Module {
	return nil
}

type ChangeStreamInput struct {
	// Path is the subtree to watch, already checked against the schema
	Path      stream.Path
	Datastore stream.Datastore
	Encoding  stream.Encoding

	// Description replaces the generated one if set
	Description string
}

type NotificationStreamInput struct {
	// Notifications in module:identifier form
	Notifications []string
	Encoding      stream.Encoding
}

type DeviceNotificationInput struct {
	// Path to the list entry of the device's mount point
	Path     stream.Path
	Encoding stream.Encoding
}

// Location of a named stream under a base stream location
func Location(base string, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + name
}

func (b *Broker) Registry() *Registry {
	return b.registry
}

func (b *Broker) CreateChangeStream(base string, in ChangeStreamInput) (*async.Future[stream.Stream], error) {
	if in.Path.Empty() {
		return nil, missing(ErrNoPath, "data change stream needs a path")
	}
	desc := in.Description
	if desc == "" {
		desc = fmt.Sprintf("Events occurring in %s datastore under %s", in.Datastore, in.Path)
	}
	s, err := b.registry.AllocateAndRegister(b.names, func(name string) stream.Stream {
		return stream.NewChangeStream(name, desc, in.Encoding, in.Datastore, in.Path, b.onIdle)
	})
	if err != nil {
		return nil, err
	}
	return b.sync.CommitCreate(s, b.record(base, s)), nil
}

func (b *Broker) CreateNotificationStream(base string, in NotificationStreamInput) (*async.Future[stream.Stream], error) {
	if len(in.Notifications) == 0 {
		return nil, invalid(ErrNoNotifications, "notification stream needs at least one notification")
	}
	qnames := make([]stream.QName, 0, len(in.Notifications))
	for _, ident := range in.Notifications {
		q, err := stream.ParseQName(ident)
		if err != nil {
			return nil, &Error{Tag: TagInvalidValue, Reason: ErrUnknownNotification, Detail: ident, Cause: err}
		}
		if _, err := resolveNotification(b.schema, q); err != nil {
			return nil, err
		}
		qnames = append(qnames, q)
	}
	qnames = stream.SortQNames(qnames)
	desc := notificationDescription(qnames)
	s, err := b.registry.AllocateAndRegister(b.names, func(name string) stream.Stream {
		return stream.NewNotificationStream(name, desc, in.Encoding, qnames, b.onIdle)
	})
	if err != nil {
		return nil, err
	}
	created := b.sync.CommitCreate(s, b.record(base, s))
	if b.notifications == nil {
		return created, nil
	}
	return b.bindAfterCommit(created, func(s stream.Stream) error {
		return s.(*stream.NotificationStream).Listen(b.notifications)
	}), nil
}

func notificationDescription(qnames []stream.QName) string {
	var desc strings.Builder
	desc.WriteString("YANG notifications matching any of {")
	for i, q := range qnames {
		if i > 0 {
			desc.WriteRune(',')
		}
		desc.WriteString("\n  ")
		desc.WriteString(q.String())
	}
	desc.WriteString("\n}")
	return desc.String()
}

func (b *Broker) CreateDeviceNotificationStream(base string, in DeviceNotificationInput) (*async.Future[stream.Stream], error) {
	if in.Path.Empty() {
		return nil, missing(ErrNoPath, "device notification stream needs a path")
	}
	switch keys := in.Path.Last().Keys; {
	case len(keys) == 0:
		return nil, invalid(ErrNotListEntry, "%s", in.Path)
	case len(keys) > 1:
		return nil, invalid(ErrMultipleKeys, "%s", in.Path)
	}
	if b.mounts == nil {
		return nil, invalid(ErrNoMountPoint, "%s", in.Path)
	}
	mp, err := b.mounts.MountPoint(in.Path)
	if err != nil || mp == nil {
		return nil, &Error{Tag: TagInvalidValue, Reason: ErrNoMountPoint, Detail: in.Path.String(), Cause: err}
	}
	notifications, ok := mp.NotificationService()
	if !ok {
		return nil, invalid(ErrUnsupported, "mount point %s does not support notifications", mp.Identifier())
	}
	schema, ok := mp.SchemaService()
	if !ok {
		return nil, invalid(ErrUnsupported, "mount point %s schema not available", mp.Identifier())
	}
	paths := notificationPaths(schema)
	if len(paths) == 0 {
		return nil, invalid(ErrUnsupported, "mount point %s declares no notifications", mp.Identifier())
	}
	desc := fmt.Sprintf("All YANG notifications occurring on mount point %s", in.Path)
	s, err := b.registry.AllocateAndRegister(b.names, func(name string) stream.Stream {
		return stream.NewDeviceNotificationStream(name, desc, in.Encoding, in.Path, schema.Modules(), b.onIdle)
	})
	if err != nil {
		return nil, err
	}
	created := b.sync.CommitCreate(s, b.record(base, s))
	return b.bindAfterCommit(created, func(s stream.Stream) error {
		if err := s.(*stream.DeviceNotificationStream).Listen(notifications, paths); err != nil {
			return err
		}
		b.watchUnmount(mp, s)
		return nil
	}), nil
}

// watchUnmount removes s when its mount point goes away
func (b *Broker) watchUnmount(mp MountPoint, s stream.Stream) {
	u, ok := mp.(Unmounter)
	if !ok {
		return
	}
	var gone atomic.Bool
	cancel := u.OnUnmount(func() {
		gone.Store(true)
		fc.Debug.Printf("mount point %s is gone, removing stream %s", mp.Identifier(), s.Name())
		b.RemoveStream(s)
	})
	b.unmounts.Store(s, cancel)
	// fn may have run before there was anything to cancel
	if gone.Load() {
		if c, found := b.unmounts.LoadAndDelete(s); found {
			c.(func())()
		}
	}
}

// bindAfterCommit subscribes a stream upstream once its record is durable.
// A stream that cannot subscribe is removed again and the future fails.
func (b *Broker) bindAfterCommit(created *async.Future[stream.Stream], bind func(stream.Stream) error) *async.Future[stream.Stream] {
	result := async.NewFuture[stream.Stream]()
	created.OnComplete(func(s stream.Stream, err error) {
		if err != nil {
			result.Fail(err)
			return
		}
		if err := bind(s); err != nil {
			fc.Err.Printf("stream %s could not subscribe to its notifications. %s", s.Name(), err)
			bindErr := failed(ErrAllocation, err, "stream %s could not subscribe", s.Name())
			b.RemoveStream(s).OnComplete(func(bool, error) {
				result.Fail(bindErr)
			})
			return
		}
		result.Set(s)
	})
	return result
}

func (b *Broker) record(base string, s stream.Stream) store.StreamRecord {
	return store.StreamRecord{
		Name:        s.Name(),
		Description: s.Description(),
		Access: []store.Access{{
			Encoding: s.Encoding().String(),
			Location: Location(base, s.Name()),
		}},
	}
}

func (b *Broker) LookupStream(name string) (stream.Stream, bool) {
	return b.registry.Lookup(name)
}

// RemoveStream removes the stream from the registry and the store, then
// closes it. Removing a stream that is no longer the registered instance
// only closes it.
func (b *Broker) RemoveStream(s stream.Stream) *async.Future[bool] {
	if cancel, found := b.unmounts.LoadAndDelete(s); found {
		cancel.(func())()
	}
	removed := b.sync.CommitRemove(s)
	if err := s.Close(); err != nil {
		fc.Err.Printf("stream %s did not close cleanly. %s", s.Name(), err)
	}
	return removed
}

func (b *Broker) onIdle(s stream.Stream) {
	b.RemoveStream(s)
}

// CheckDataPath tells if p names a node in the broker's schema. Change
// streams trust their path so callers taking paths from clients check
// them first.
func (b *Broker) CheckDataPath(p stream.Path) error {
	if p.Empty() {
		return missing(ErrNoPath, "no data path")
	}
	return resolveDataPath(b.schema, p)
}

// PublishChange sends a change at path in datastore ds to every change
// stream whose subtree overlaps path and returns how many there were. Data
// is the JSON of the node after the change, empty for a deletion.
func (b *Broker) PublishChange(ds stream.Datastore, path stream.Path, data string) (int, error) {
	if path.Empty() {
		return 0, missing(ErrNoPath, "data change needs a path")
	}
	etime := time.Now()
	var sent int
	var firstErr error
	b.registry.Each(func(s stream.Stream) {
		cs, isChange := s.(*stream.ChangeStream)
		if !isChange || cs.Datastore() != ds {
			return
		}
		ok, err := cs.Changed(etime, path, data)
		if err != nil {
			if firstErr == nil {
				firstErr = &Error{Tag: TagInvalidValue, Reason: ErrInvalidPayload, Detail: path.String(), Cause: err}
			}
			return
		}
		if ok {
			sent++
		}
	})
	return sent, firstErr
}

// PublishNotification raises notification ident with JSON content data on
// the local notification service, or on the mounted device at mount when
// it is given.
func (b *Broker) PublishNotification(mount stream.Path, ident string, data string) error {
	q, err := stream.ParseQName(ident)
	if err != nil {
		return &Error{Tag: TagInvalidValue, Reason: ErrUnknownNotification, Detail: ident, Cause: err}
	}
	svc, schema := b.notifications, b.schema
	target := "local device"
	if !mount.Empty() {
		if b.mounts == nil {
			return invalid(ErrNoMountPoint, "%s", mount)
		}
		mp, err := b.mounts.MountPoint(mount)
		if err != nil || mp == nil {
			return &Error{Tag: TagInvalidValue, Reason: ErrNoMountPoint, Detail: mount.String(), Cause: err}
		}
		target = "mount point " + mp.Identifier()
		var ok bool
		if svc, ok = mp.NotificationService(); !ok {
			return invalid(ErrUnsupported, "%s does not support notifications", target)
		}
		if schema, ok = mp.SchemaService(); !ok {
			return invalid(ErrUnsupported, "%s schema not available", target)
		}
	}
	if _, err := resolveNotification(schema, q); err != nil {
		return err
	}
	pub, ok := svc.(Publisher)
	if !ok {
		return invalid(ErrUnsupported, "%s does not take published notifications", target)
	}
	if strings.TrimSpace(data) == "" {
		data = "{}"
	}
	event, err := nodeutil.ReadJSON(data)
	if err != nil {
		return &Error{Tag: TagInvalidValue, Reason: ErrInvalidPayload, Detail: ident, Cause: err}
	}
	return pub.Publish(q, event)
}
