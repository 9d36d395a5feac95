package broker

import (
	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/node"
)

// MountPointService finds the mounted device behind a data tree path
type MountPointService interface {
	MountPoint(path stream.Path) (MountPoint, error)
}

// MountPoint is a mounted device. A device may lack either capability in
// which case the matching accessor returns false.
type MountPoint interface {
	Identifier() string
	NotificationService() (stream.NotificationService, bool)
	SchemaService() (Schema, bool)
}

// Unmounter is a mount point that can go away while streams are bound to
// it. Streams of a mount point are removed when fn runs.
type Unmounter interface {
	OnUnmount(fn func()) (cancel func())
}

// Publisher is a notification service that also accepts notifications
// raised from outside
type Publisher interface {
	Publish(q stream.QName, event node.Node) error
}
