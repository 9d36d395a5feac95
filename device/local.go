package device

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/meta"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/parser"
	"github.com/freeconf/yang/source"
)

// Local is a device whose data trees live in this process
type Local struct {
	ypath    source.Opener
	mu       sync.RWMutex
	browsers map[string]*node.Browser
	modules  map[string]*meta.Module
	events   map[string]*Events
	closers  *list.List
	closed   bool
}

func NewLocal(ypath source.Opener) *Local {
	return &Local{
		ypath:    ypath,
		browsers: make(map[string]*node.Browser),
		modules:  make(map[string]*meta.Module),
		events:   make(map[string]*Events),
		closers:  list.New(),
	}
}

func (self *Local) AddBrowser(b *node.Browser) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.browsers[b.Meta.Ident()] = b
	self.modules[b.Meta.Ident()] = b.Meta
}

// Load reads module from the schema source and serves it with an Events
// node so its notifications can be raised with Publish
func (self *Local) Load(module string) (*Events, error) {
	m, err := parser.LoadModule(self.ypath, module)
	if err != nil {
		return nil, err
	}
	return self.AddEvents(m), nil
}

func (self *Local) AddEvents(m *meta.Module) *Events {
	e := NewEvents()
	self.AddBrowser(node.NewBrowser(m, e.Node()))
	self.mu.Lock()
	self.events[m.Ident()] = e
	self.mu.Unlock()
	return e
}

// Publish raises notification q with content event on the device
func (self *Local) Publish(q stream.QName, event node.Node) error {
	self.mu.RLock()
	e, found := self.events[q.Module]
	self.mu.RUnlock()
	if !found {
		return fmt.Errorf("%w. module %s does not take published notifications", fc.NotFoundError, q.Module)
	}
	n := e.Publish(q.Ident, event)
	fc.Debug.Printf("notification %s went to %d subscribers", q, n)
	return nil
}

// OnClose runs fn when the device is closed, right away if it already is.
// Call the returned func to forget fn.
func (self *Local) OnClose(fn func()) func() {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		fn()
		return func() {}
	}
	e := self.closers.PushBack(fn)
	self.mu.Unlock()
	return func() {
		self.mu.Lock()
		self.closers.Remove(e)
		self.mu.Unlock()
	}
}

func (self *Local) Browser(module string) (*node.Browser, error) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if b, found := self.browsers[module]; found {
		return b, nil
	}
	return nil, fmt.Errorf("%w. module %s", fc.NotFoundError, module)
}

func (self *Local) Modules() map[string]*meta.Module {
	self.mu.RLock()
	defer self.mu.RUnlock()
	mods := make(map[string]*meta.Module, len(self.modules))
	for k, m := range self.modules {
		mods[k] = m
	}
	return mods
}

func (self *Local) Close() {
	self.mu.Lock()
	self.closed = true
	var closers []func()
	for e := self.closers.Front(); e != nil; e = e.Next() {
		closers = append(closers, e.Value.(func()))
	}
	self.closers = list.New()
	self.mu.Unlock()
	for _, fn := range closers {
		fn()
	}
}
