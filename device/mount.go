package device

import (
	"fmt"

	"github.com/freeconf/broker"
	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
)

// MountPoints resolves a path ending in a device list entry, like
// /network-topology:network-topology/topology=main/node=dev1, to the device
// in the map whose id is the entry's key.
type MountPoints struct {
	devices Map
}

func NewMountPoints(devices Map) *MountPoints {
	return &MountPoints{devices: devices}
}

func (self *MountPoints) MountPoint(path stream.Path) (broker.MountPoint, error) {
	keys := path.Last().Keys
	if len(keys) != 1 {
		return nil, fmt.Errorf("%w. %s is not a single keyed list entry", fc.BadRequestError, path)
	}
	d, err := self.devices.Device(keys[0])
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w. device %s", fc.NotFoundError, keys[0])
	}
	return &mountPoint{id: keys[0], device: d}, nil
}

type mountPoint struct {
	id     string
	device Device
}

func (self *mountPoint) Identifier() string {
	return self.id
}

func (self *mountPoint) NotificationService() (stream.NotificationService, bool) {
	return self.device, true
}

func (self *mountPoint) SchemaService() (broker.Schema, bool) {
	return self.device, len(self.device.Modules()) > 0
}

type closeNotifier interface {
	OnClose(fn func()) func()
}

// OnUnmount runs fn when the device closes, which LocalMap.Remove does
func (self *mountPoint) OnUnmount(fn func()) func() {
	if c, ok := self.device.(closeNotifier); ok {
		return c.OnClose(fn)
	}
	return func() {}
}
