package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freeconf/broker/store"
	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/meta"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
	"github.com/freeconf/yang/parser"
)

const base = "https://example.com/restconf/streams"

var exampleYang = `
module example {
	namespace "example";
	prefix "ex";
	container root {
		leaf x {
			type string;
		}
	}
	notification alarm {
		leaf msg {
			type string;
		}
	}
	notification status {
		leaf msg {
			type string;
		}
	}
	rpc reboot;
}
`

var carYang = `
module car {
	namespace "car";
	prefix "car";
	leaf speed {
		type int32;
	}
	notification update {
		leaf msg {
			type string;
		}
	}
}
`

var bikeYang = `
module bike {
	namespace "bike";
	prefix "bike";
	leaf speed {
		type int32;
	}
}
`

type msg struct {
	Msg string
}

// testDevice serves notifications of its modules from msgs. Modules without
// a browser fail to subscribe.
type testDevice struct {
	modules   map[string]*meta.Module
	browsers  map[string]*node.Browser
	msgs      chan msg
	subs      int32
	published []string
}

func newTestDevice(t *testing.T, yangs ...string) *testDevice {
	t.Helper()
	d := &testDevice{
		modules:  make(map[string]*meta.Module),
		browsers: make(map[string]*node.Browser),
		msgs:     make(chan msg),
	}
	for _, y := range yangs {
		m, err := parser.LoadModuleFromString(nil, y)
		fc.RequireEqual(t, nil, err)
		d.modules[m.Ident()] = m
		d.browsers[m.Ident()] = node.NewBrowser(m, d.node())
	}
	return d
}

func (d *testDevice) node() node.Node {
	return &nodeutil.Basic{
		OnNotify: func(r node.NotifyRequest) (node.NotifyCloser, error) {
			atomic.AddInt32(&d.subs, 1)
			done := make(chan struct{})
			go func() {
				for {
					select {
					case m := <-d.msgs:
						r.Send(&nodeutil.Node{Object: &m})
					case <-done:
						return
					}
				}
			}()
			return func() error {
				close(done)
				return nil
			}, nil
		},
	}
}

func (d *testDevice) Browser(module string) (*node.Browser, error) {
	if b := d.browsers[module]; b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w. module %s", fc.NotFoundError, module)
}

func (d *testDevice) Modules() map[string]*meta.Module {
	return d.modules
}

func (d *testDevice) Publish(q stream.QName, event node.Node) error {
	d.published = append(d.published, q.String())
	return nil
}

// browserOnly hides everything but Browser
type browserOnly struct {
	stream.NotificationService
}

type testMountPoint struct {
	id        string
	device    *testDevice
	noNotif   bool
	noYang    bool
	noPublish bool
	unmount   func()
}

func (mp *testMountPoint) Identifier() string {
	return mp.id
}

func (mp *testMountPoint) NotificationService() (stream.NotificationService, bool) {
	if mp.noPublish {
		return browserOnly{mp.device}, !mp.noNotif
	}
	return mp.device, !mp.noNotif
}

func (mp *testMountPoint) OnUnmount(fn func()) func() {
	mp.unmount = fn
	return func() {
		mp.unmount = nil
	}
}

func (mp *testMountPoint) SchemaService() (Schema, bool) {
	return mp.device, !mp.noYang
}

type testMounts struct {
	mp    *testMountPoint
	err   error
	calls int32
}

func (m *testMounts) MountPoint(path stream.Path) (MountPoint, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return nil, m.err
	}
	return m.mp, nil
}

type testHarness struct {
	broker  *Broker
	store   *store.Memory
	local   *testDevice
	mounts  *testMounts
	commits int32
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		store:  store.NewMemory(),
		local:  newTestDevice(t, exampleYang),
		mounts: &testMounts{},
	}
	h.mounts.mp = &testMountPoint{id: "d1", device: newTestDevice(t, carYang)}
	h.store.OnCommit(func([]store.StreamRecord, []string) error {
		atomic.AddInt32(&h.commits, 1)
		return nil
	})
	h.broker = New(h.store, Options{
		Schema:        h.local,
		Notifications: h.local,
		MountPoints:   h.mounts,
	})
	return h
}

// storeTouched counts commit attempts, failed ones included
func (h *testHarness) storeTouched() int {
	return int(atomic.LoadInt32(&h.commits))
}

func await(t *testing.T, f interface {
	Await(context.Context) (stream.Stream, error)
}) (stream.Stream, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func mustPath(t *testing.T, s string) stream.Path {
	t.Helper()
	p, err := stream.ParsePath(s)
	fc.RequireEqual(t, nil, err)
	return p
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateChangeStream(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{
		Path: mustPath(t, "/example:root"),
	})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	cs := s.(*stream.ChangeStream)
	fc.AssertEqual(t, stream.Configuration, cs.Datastore())
	fc.AssertEqual(t, stream.EncodingXML, cs.Encoding())
	fc.AssertEqual(t, "Events occurring in CONFIGURATION datastore under /example:root", s.Description())

	found, ok := h.broker.LookupStream(s.Name())
	fc.AssertEqual(t, true, ok)
	fc.AssertEqual(t, true, found == s)

	rec, persisted := h.store.Get(s.Name())
	fc.AssertEqual(t, true, persisted)
	fc.AssertEqual(t, s.Description(), rec.Description)
	fc.AssertEqual(t, []store.Access{{Encoding: "xml", Location: base + "/" + s.Name()}}, rec.Access)
}

func TestCreateChangeStreamDescription(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{
		Path:        mustPath(t, "/example:root"),
		Datastore:   stream.Operational,
		Encoding:    stream.EncodingJSON,
		Description: "mine",
	})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	fc.AssertEqual(t, "mine", s.Description())
	rec, _ := h.store.Get(s.Name())
	fc.AssertEqual(t, "json", rec.Access[0].Encoding)
}

func TestCreateChangeStreamNoPath(t *testing.T) {
	h := newHarness(t)
	_, err := h.broker.CreateChangeStream(base, ChangeStreamInput{})
	fc.AssertEqual(t, true, errors.Is(err, ErrNoPath))
	fc.AssertEqual(t, TagDataMissing, ErrorTagOf(err))
	fc.AssertEqual(t, 400, fc.HttpStatusCode(err))
	fc.AssertEqual(t, 0, h.storeTouched())
	fc.AssertEqual(t, 0, h.broker.Registry().Len())
}

func TestCommitFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	cause := errors.New("store unavailable")
	h.store.OnCommit(func([]store.StreamRecord, []string) error {
		return cause
	})
	h.broker.names = sequence("urn:test:1")
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	_, err = await(t, f)
	fc.AssertEqual(t, true, errors.Is(err, cause))
	fc.AssertEqual(t, true, errors.Is(err, ErrAllocation))
	fc.AssertEqual(t, true, strings.Contains(err.Error(), "urn:test:1"), err.Error())
	_, found := h.broker.LookupStream("urn:test:1")
	fc.AssertEqual(t, false, found)
	fc.AssertEqual(t, 0, h.broker.Registry().Len())
	_, persisted := h.store.Get("urn:test:1")
	fc.AssertEqual(t, false, persisted)
}

func TestRemoveStream(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)

	removed, err := h.broker.RemoveStream(s).Await(context.Background())
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, true, removed)
	_, found := h.broker.LookupStream(s.Name())
	fc.AssertEqual(t, false, found)
	_, persisted := h.store.Get(s.Name())
	fc.AssertEqual(t, false, persisted)
}

func TestRemoveStreamCommitFailure(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)

	cause := errors.New("store unavailable")
	h.store.OnCommit(func([]store.StreamRecord, []string) error {
		return cause
	})
	_, err = h.broker.RemoveStream(s).Await(context.Background())
	fc.AssertEqual(t, cause, err)
	_, found := h.broker.LookupStream(s.Name())
	fc.AssertEqual(t, false, found)
	_, persisted := h.store.Get(s.Name())
	fc.AssertEqual(t, true, persisted)
}

func TestStaleRemovalIsNoop(t *testing.T) {
	h := newHarness(t)
	h.broker.names = sequence("urn:test:1")
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	current, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	commits := h.storeTouched()

	stale := changeCtor("urn:test:1")
	removed, err := h.broker.RemoveStream(stale).Await(context.Background())
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, false, removed)
	found, ok := h.broker.LookupStream("urn:test:1")
	fc.AssertEqual(t, true, ok)
	fc.AssertEqual(t, true, found == current)
	_, persisted := h.store.Get("urn:test:1")
	fc.AssertEqual(t, true, persisted)
	fc.AssertEqual(t, commits, h.storeTouched())
}

func TestIdleStreamIsRemoved(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	fc.RequireEqual(t, nil, s.Subscribe("r1", func(stream.Event) error { return nil }))
	s.Unsubscribe("r1")
	eventually(t, func() bool {
		_, found := h.broker.LookupStream(s.Name())
		return !found
	})
	eventually(t, func() bool {
		_, persisted := h.store.Get(s.Name())
		return !persisted
	})
}

func TestConcurrentCreations(t *testing.T) {
	h := newHarness(t)
	const n = 32
	futures := make(chan interface {
		Await(context.Context) (stream.Stream, error)
	}, n)
	for i := 0; i < n; i++ {
		go func() {
			f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
			if err != nil {
				t.Error(err)
			}
			futures <- f
		}()
	}
	names := make(map[string]bool)
	for i := 0; i < n; i++ {
		s, err := await(t, <-futures)
		fc.RequireEqual(t, nil, err)
		names[s.Name()] = true
	}
	fc.AssertEqual(t, n, len(names))
	fc.AssertEqual(t, n, h.broker.Registry().Len())
	recs, err := h.store.List(context.Background())
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, n, len(recs))
}

func TestCreateNotificationStream(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateNotificationStream(base, NotificationStreamInput{
		Notifications: []string{"example:status", "example:alarm", "example:alarm"},
		Encoding:      stream.EncodingJSON,
	})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	fc.AssertEqual(t, "YANG notifications matching any of {\n  example:alarm,\n  example:status\n}", s.Description())
	ns := s.(*stream.NotificationStream)
	fc.AssertEqual(t, []stream.QName{{Module: "example", Ident: "alarm"}, {Module: "example", Ident: "status"}}, ns.Notifications())

	events := make(chan stream.Event, 2)
	fc.RequireEqual(t, nil, s.Subscribe("r1", func(e stream.Event) error {
		events <- e
		return nil
	}))
	h.local.msgs <- msg{Msg: "hello"}
	e := <-events
	fc.AssertEqual(t, s.Name(), e.Stream)
	fc.AssertEqual(t, true, strings.HasSuffix(e.Data, `"event":{"msg":"hello"}}}`), e.Data)
	fc.AssertEqual(t, nil, s.Close())
}

func TestCreateNotificationStreamRejects(t *testing.T) {
	tests := []struct {
		notifs []string
		reason error
	}{
		// second one is a container, first must never be reserved
		{[]string{"example:alarm", "example:root"}, ErrNotNotification},
		{[]string{"example:reboot"}, ErrNotNotification},
		{[]string{"example:alarm", "example:missing"}, ErrUnknownNotification},
		{[]string{"nope:alarm"}, ErrUnknownModule},
		{[]string{"alarm"}, ErrUnknownNotification},
		{nil, ErrNoNotifications},
	}
	for _, test := range tests {
		h := newHarness(t)
		_, err := h.broker.CreateNotificationStream(base, NotificationStreamInput{Notifications: test.notifs})
		fc.AssertEqual(t, true, errors.Is(err, test.reason), fmt.Sprintf("%v %v", test.notifs, err))
		fc.AssertEqual(t, TagInvalidValue, ErrorTagOf(err))
		fc.AssertEqual(t, 400, fc.HttpStatusCode(err))
		fc.AssertEqual(t, 0, h.broker.Registry().Len())
		fc.AssertEqual(t, 0, h.storeTouched())
	}
}

func TestCreateDeviceNotificationStream(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateDeviceNotificationStream(base, DeviceNotificationInput{
		Path:     mustPath(t, "/network-topology:network-topology/topology=main/node=d1"),
		Encoding: stream.EncodingJSON,
	})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	fc.AssertEqual(t, "All YANG notifications occurring on mount point /network-topology:network-topology/topology=main/node=d1", s.Description())
	ds := s.(*stream.DeviceNotificationStream)
	fc.AssertEqual(t, []stream.QName{{Module: "car", Ident: "update"}}, ds.Paths())
	fc.AssertEqual(t, true, ds.Schema()["car"] != nil)

	events := make(chan stream.Event, 1)
	fc.RequireEqual(t, nil, s.Subscribe("r1", func(e stream.Event) error {
		events <- e
		return nil
	}))
	h.mounts.mp.device.msgs <- msg{Msg: "vroom"}
	e := <-events
	fc.AssertEqual(t, true, strings.HasSuffix(e.Data, `"event":{"msg":"vroom"}}}`), e.Data)
	fc.AssertEqual(t, nil, s.Close())
}

func TestCreateDeviceNotificationStreamRejects(t *testing.T) {
	tests := []struct {
		path   string
		setup  func(h *testHarness)
		reason error
		lookup bool
	}{
		{path: "", reason: ErrNoPath},
		{path: "/net:devices", reason: ErrNotListEntry},
		{path: "/net:devices/device=a,b", reason: ErrMultipleKeys},
		{
			path:   "/net:devices/device=d1",
			setup:  func(h *testHarness) { h.mounts.err = errors.New("gone") },
			reason: ErrNoMountPoint,
			lookup: true,
		},
		{
			path:   "/net:devices/device=d1",
			setup:  func(h *testHarness) { h.mounts.mp.noNotif = true },
			reason: ErrUnsupported,
			lookup: true,
		},
		{
			path:   "/net:devices/device=d1",
			setup:  func(h *testHarness) { h.mounts.mp.noYang = true },
			reason: ErrUnsupported,
			lookup: true,
		},
		{
			path: "/net:devices/device=d1",
			setup: func(h *testHarness) {
				h.mounts.mp.device = newTestDevice(t, bikeYang)
			},
			reason: ErrUnsupported,
			lookup: true,
		},
	}
	for _, test := range tests {
		h := newHarness(t)
		if test.setup != nil {
			test.setup(h)
		}
		var p stream.Path
		if test.path != "" {
			p = mustPath(t, test.path)
		}
		_, err := h.broker.CreateDeviceNotificationStream(base, DeviceNotificationInput{Path: p})
		fc.AssertEqual(t, true, errors.Is(err, test.reason), fmt.Sprintf("%s %v", test.path, err))
		fc.AssertEqual(t, 400, fc.HttpStatusCode(err))
		fc.AssertEqual(t, 0, h.broker.Registry().Len())
		fc.AssertEqual(t, 0, h.storeTouched())
		fc.AssertEqual(t, test.lookup, atomic.LoadInt32(&h.mounts.calls) > 0, test.path)
	}
}

func TestDeviceBindFailureRemovesStream(t *testing.T) {
	h := newHarness(t)
	// schema says car exists but the device cannot serve it
	delete(h.mounts.mp.device.browsers, "car")
	h.broker.names = sequence("urn:test:dev")
	f, err := h.broker.CreateDeviceNotificationStream(base, DeviceNotificationInput{
		Path: mustPath(t, "/net:devices/device=d1"),
	})
	fc.RequireEqual(t, nil, err)
	_, err = await(t, f)
	fc.AssertEqual(t, true, errors.Is(err, ErrAllocation))
	fc.AssertEqual(t, true, errors.Is(err, fc.NotFoundError))
	_, found := h.broker.LookupStream("urn:test:dev")
	fc.AssertEqual(t, false, found)
	_, persisted := h.store.Get("urn:test:dev")
	fc.AssertEqual(t, false, persisted)
	// one commit to create and one to delete
	fc.AssertEqual(t, 2, h.storeTouched())
}

func TestDeviceStreamNotBoundWhenCommitFails(t *testing.T) {
	h := newHarness(t)
	h.store.OnCommit(func([]store.StreamRecord, []string) error {
		return errors.New("store unavailable")
	})
	f, err := h.broker.CreateDeviceNotificationStream(base, DeviceNotificationInput{
		Path: mustPath(t, "/net:devices/device=d1"),
	})
	fc.RequireEqual(t, nil, err)
	_, err = await(t, f)
	fc.AssertEqual(t, true, errors.Is(err, ErrAllocation))
	fc.AssertEqual(t, int32(0), atomic.LoadInt32(&h.mounts.mp.device.subs))
	fc.AssertEqual(t, true, h.mounts.mp.unmount == nil)
	fc.AssertEqual(t, 0, h.broker.Registry().Len())
}

func TestDeviceStreamRemovedOnUnmount(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateDeviceNotificationStream(base, DeviceNotificationInput{
		Path: mustPath(t, "/net:devices/device=d1"),
	})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	fc.AssertEqual(t, int32(1), atomic.LoadInt32(&h.mounts.mp.device.subs))
	unmount := h.mounts.mp.unmount
	fc.RequireEqual(t, true, unmount != nil)

	unmount()
	eventually(t, func() bool {
		_, found := h.broker.LookupStream(s.Name())
		return !found
	})
	eventually(t, func() bool {
		_, persisted := h.store.Get(s.Name())
		return !persisted
	})
}

func TestRemoveStreamStopsWatchingMountPoint(t *testing.T) {
	h := newHarness(t)
	f, err := h.broker.CreateDeviceNotificationStream(base, DeviceNotificationInput{
		Path: mustPath(t, "/net:devices/device=d1"),
	})
	fc.RequireEqual(t, nil, err)
	s, err := await(t, f)
	fc.RequireEqual(t, nil, err)
	removed, err := h.broker.RemoveStream(s).Await(context.Background())
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, true, removed)
	fc.AssertEqual(t, true, h.mounts.mp.unmount == nil)
}

func TestOpenClearsStaleRecords(t *testing.T) {
	dir := t.TempDir()
	st, err := store.OpenPebble(store.PebbleOptions{DataDir: dir})
	fc.RequireEqual(t, nil, err)
	b, err := Open(context.Background(), st, Options{Names: sequence("urn:test:old")})
	fc.RequireEqual(t, nil, err)
	f, err := b.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	_, err = await(t, f)
	fc.RequireEqual(t, nil, err)
	fc.RequireEqual(t, nil, st.Close())

	st, err = store.OpenPebble(store.PebbleOptions{DataDir: dir})
	fc.RequireEqual(t, nil, err)
	defer st.Close()
	recs, err := st.List(context.Background())
	fc.RequireEqual(t, nil, err)
	fc.AssertEqual(t, 1, len(recs))

	b, err = Open(context.Background(), st, Options{})
	fc.RequireEqual(t, nil, err)
	recs, err = st.List(context.Background())
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, 0, len(recs))
	_, found := b.LookupStream("urn:test:old")
	fc.AssertEqual(t, false, found)
}

func TestCheckDataPath(t *testing.T) {
	h := newHarness(t)
	fc.AssertEqual(t, nil, h.broker.CheckDataPath(mustPath(t, "/example:root")))
	fc.AssertEqual(t, nil, h.broker.CheckDataPath(mustPath(t, "/example:root/x")))
	tests := []struct {
		path   string
		reason error
	}{
		{"/nope:anything", ErrUnknownModule},
		{"/example:missing", ErrUnknownNode},
		{"/example:root/x/y", ErrUnknownNode},
		{"/example:root=1", ErrUnknownNode},
		{"/example:root/nope:x", ErrUnknownModule},
	}
	for _, test := range tests {
		err := h.broker.CheckDataPath(mustPath(t, test.path))
		fc.AssertEqual(t, true, errors.Is(err, test.reason), fmt.Sprintf("%s %v", test.path, err))
		fc.AssertEqual(t, TagInvalidValue, ErrorTagOf(err))
	}
	err := h.broker.CheckDataPath(nil)
	fc.AssertEqual(t, true, errors.Is(err, ErrNoPath))
}

func TestPublishChange(t *testing.T) {
	h := newHarness(t)
	subscribe := func(path string, ds stream.Datastore) chan stream.Event {
		f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{
			Path:      mustPath(t, path),
			Datastore: ds,
			Encoding:  stream.EncodingJSON,
		})
		fc.RequireEqual(t, nil, err)
		s, err := await(t, f)
		fc.RequireEqual(t, nil, err)
		events := make(chan stream.Event, 4)
		fc.RequireEqual(t, nil, s.Subscribe("r", func(e stream.Event) error {
			events <- e
			return nil
		}))
		return events
	}
	root := subscribe("/example:root", stream.Configuration)
	leaf := subscribe("/example:root/x", stream.Configuration)
	oper := subscribe("/example:root", stream.Operational)

	n, err := h.broker.PublishChange(stream.Configuration, mustPath(t, "/example:root/x"), `{"x":"hi"}`)
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, 2, n)
	fc.AssertEqual(t, true, strings.Contains((<-root).Data, `"path":"/example:root/x"`))
	fc.AssertEqual(t, true, strings.Contains((<-leaf).Data, `"data":{"x":"hi"}`))
	fc.AssertEqual(t, 0, len(oper))

	// replacing the parent touches the child's subtree too
	n, err = h.broker.PublishChange(stream.Configuration, mustPath(t, "/example:root"), "")
	fc.AssertEqual(t, nil, err)
	fc.AssertEqual(t, 2, n)

	_, err = h.broker.PublishChange(stream.Operational, mustPath(t, "/example:root"), "{nope")
	fc.AssertEqual(t, true, errors.Is(err, ErrInvalidPayload))
	_, err = h.broker.PublishChange(stream.Operational, nil, "")
	fc.AssertEqual(t, true, errors.Is(err, ErrNoPath))
}

func TestPublishNotification(t *testing.T) {
	h := newHarness(t)
	fc.AssertEqual(t, nil, h.broker.PublishNotification(nil, "example:alarm", `{"msg":"x"}`))
	fc.AssertEqual(t, []string{"example:alarm"}, h.local.published)

	mount := mustPath(t, "/net:devices/device=d1")
	fc.AssertEqual(t, nil, h.broker.PublishNotification(mount, "car:update", ""))
	fc.AssertEqual(t, []string{"car:update"}, h.mounts.mp.device.published)

	tests := []struct {
		mount  stream.Path
		ident  string
		data   string
		setup  func()
		reason error
	}{
		{ident: "example:root", reason: ErrNotNotification},
		{ident: "alarm", reason: ErrUnknownNotification},
		{ident: "example:alarm", data: "{nope", reason: ErrInvalidPayload},
		{mount: mount, ident: "example:alarm", reason: ErrUnknownModule},
		{mount: mount, ident: "car:update", setup: func() { h.mounts.mp.noPublish = true }, reason: ErrUnsupported},
		{mount: mount, ident: "car:update", setup: func() { h.mounts.err = errors.New("gone") }, reason: ErrNoMountPoint},
	}
	for _, test := range tests {
		if test.setup != nil {
			test.setup()
		}
		err := h.broker.PublishNotification(test.mount, test.ident, test.data)
		fc.AssertEqual(t, true, errors.Is(err, test.reason), fmt.Sprintf("%s %v", test.ident, err))
		fc.AssertEqual(t, 400, fc.HttpStatusCode(err))
	}
}

func TestAbandonedCreationIsRemoved(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.store.OnCommit(func([]store.StreamRecord, []string) error {
		<-release
		return nil
	})
	f, err := h.broker.CreateChangeStream(base, ChangeStreamInput{Path: mustPath(t, "/example:root")})
	fc.RequireEqual(t, nil, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = awaitCreated(ctx, h.broker, f)
	fc.AssertEqual(t, context.Canceled, err)

	close(release)
	eventually(t, func() bool {
		return h.broker.Registry().Len() == 0
	})
	eventually(t, func() bool {
		recs, _ := h.store.List(context.Background())
		return len(recs) == 0
	})
}
