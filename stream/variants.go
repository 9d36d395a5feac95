package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/meta"
)

// ChangeStream carries data-tree-change events for a subtree of one
// datastore. Events are pushed in with Publish by whoever watches the
// datastore.
type ChangeStream struct {
	base
	datastore Datastore
	path      Path
}

func NewChangeStream(name string, description string, enc Encoding, ds Datastore, path Path, onIdle IdleHook) *ChangeStream {
	s := &ChangeStream{datastore: ds, path: path}
	s.init(s, name, description, enc, onIdle)
	return s
}

func (s *ChangeStream) Datastore() Datastore {
	return s.datastore
}

func (s *ChangeStream) Path() Path {
	return s.path
}

type dataChange struct {
	Datastore string          `json:"datastore"`
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Changed publishes one change at path. Data is the JSON of the node after
// the change and empty when the node was deleted. Changes outside the
// stream's subtree are ignored.
func (s *ChangeStream) Changed(etime time.Time, path Path, data string) (bool, error) {
	if !s.path.Overlaps(path) {
		return false, nil
	}
	change := dataChange{Datastore: s.datastore.String(), Path: path.String()}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return false, fmt.Errorf("%w. change data is not JSON", fc.BadRequestError)
		}
		change.Data = json.RawMessage(data)
	}
	body, err := json.Marshal(map[string]dataChange{"data-change": change})
	if err != nil {
		return false, err
	}
	formatted, err := formatBody(s.encoding, etime, string(body))
	if err != nil {
		return false, err
	}
	s.publish(Event{Stream: s.name, EventTime: etime, Data: formatted})
	return true, nil
}

// NotificationStream carries the YANG notifications named at creation
type NotificationStream struct {
	base
	notifications []QName
}

func NewNotificationStream(name string, description string, enc Encoding, notifications []QName, onIdle IdleHook) *NotificationStream {
	s := &NotificationStream{notifications: notifications}
	s.init(s, name, description, enc, onIdle)
	return s
}

func (s *NotificationStream) Notifications() []QName {
	return s.notifications
}

// Listen binds the stream to its notifications in svc
func (s *NotificationStream) Listen(svc NotificationService) error {
	return s.listen(svc, s.notifications)
}

func (b *base) listen(svc NotificationService, paths []QName) error {
	closers, err := subscribeAll(svc, paths, b.Publish)
	if err != nil {
		return err
	}
	if !b.bind(closers) {
		for _, c := range closers {
			c()
		}
	}
	return nil
}

// DeviceNotificationStream carries every notification of a mounted device
type DeviceNotificationStream struct {
	base
	mountPoint Path
	schema     map[string]*meta.Module
	paths      []QName
}

func NewDeviceNotificationStream(name string, description string, enc Encoding, mountPoint Path, schema map[string]*meta.Module, onIdle IdleHook) *DeviceNotificationStream {
	s := &DeviceNotificationStream{mountPoint: mountPoint, schema: schema}
	s.init(s, name, description, enc, onIdle)
	return s
}

func (s *DeviceNotificationStream) MountPoint() Path {
	return s.mountPoint
}

// Schema of the mounted device at the time the stream was created
func (s *DeviceNotificationStream) Schema() map[string]*meta.Module {
	return s.schema
}

// Paths the stream is listening to, empty until Listen succeeds
func (s *DeviceNotificationStream) Paths() []QName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths
}

// Listen binds the stream to the given notifications of the device
func (s *DeviceNotificationStream) Listen(svc NotificationService, paths []QName) error {
	if err := s.listen(svc, paths); err != nil {
		return err
	}
	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()
	return nil
}
