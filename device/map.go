package device

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"github.com/freeconf/yang/fc"
)

// Map finds mounted devices by id
type Map interface {
	Device(deviceId string) (Device, error)
	DeviceIds() []string
}

type Change int

const (
	Added Change = iota
	Removed
)

type ChangeListener func(d Device, id string, c Change)

// LocalMap is a Map of devices registered in this process
type LocalMap struct {
	mu        sync.RWMutex
	devices   map[string]Device
	listeners *list.List
}

func NewLocalMap() *LocalMap {
	return &LocalMap{
		devices:   make(map[string]Device),
		listeners: list.New(),
	}
}

func (self *LocalMap) Add(id string, d Device) {
	self.mu.Lock()
	self.devices[id] = d
	self.mu.Unlock()
	self.updateListeners(d, id, Added)
}

// Remove unmounts and closes a device
func (self *LocalMap) Remove(id string) {
	self.mu.Lock()
	d, found := self.devices[id]
	delete(self.devices, id)
	self.mu.Unlock()
	if found {
		self.updateListeners(d, id, Removed)
		d.Close()
	}
}

func (self *LocalMap) Device(id string) (Device, error) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if d, found := self.devices[id]; found {
		return d, nil
	}
	return nil, fmt.Errorf("%w. device %s", fc.NotFoundError, id)
}

func (self *LocalMap) DeviceIds() []string {
	self.mu.RLock()
	ids := make([]string, 0, len(self.devices))
	for id := range self.devices {
		ids = append(ids, id)
	}
	self.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// OnUpdate registers l for devices coming and going. Call the returned
// func to stop listening.
func (self *LocalMap) OnUpdate(l ChangeListener) func() {
	self.mu.Lock()
	e := self.listeners.PushBack(l)
	self.mu.Unlock()
	return func() {
		self.mu.Lock()
		self.listeners.Remove(e)
		self.mu.Unlock()
	}
}

func (self *LocalMap) updateListeners(d Device, id string, c Change) {
	self.mu.RLock()
	var ls []ChangeListener
	for p := self.listeners.Front(); p != nil; p = p.Next() {
		ls = append(ls, p.Value.(ChangeListener))
	}
	self.mu.RUnlock()
	for _, l := range ls {
		l(d, id, c)
	}
}

// Close closes every device
func (self *LocalMap) Close() {
	for _, id := range self.DeviceIds() {
		self.Remove(id)
	}
}
