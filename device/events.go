package device

import (
	"container/list"
	"sync"

	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
)

// Events serves the notifications of a module whose events come from
// outside the process. Publish hands an event to everyone subscribed to
// the notification.
type Events struct {
	mu   sync.Mutex
	subs map[string]*list.List
}

func NewEvents() *Events {
	return &Events{subs: make(map[string]*list.List)}
}

// Node for a browser of the module
func (self *Events) Node() node.Node {
	return self.node("")
}

func (self *Events) node(prefix string) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			return self.node(prefix + r.Meta.Ident() + "/"), nil
		},
		OnNotify: func(r node.NotifyRequest) (node.NotifyCloser, error) {
			path := prefix + r.Meta.Ident()
			self.mu.Lock()
			l, found := self.subs[path]
			if !found {
				l = list.New()
				self.subs[path] = l
			}
			e := l.PushBack(r.Send)
			self.mu.Unlock()
			return func() error {
				self.mu.Lock()
				l.Remove(e)
				self.mu.Unlock()
				return nil
			}, nil
		},
	}
}

// Publish sends event to subscribers of the notification at path, relative
// to the module like "a/b/notif". Returns how many got it.
func (self *Events) Publish(path string, event node.Node) int {
	self.mu.Lock()
	var sends []func(node.Node)
	if l, found := self.subs[path]; found {
		for e := l.Front(); e != nil; e = e.Next() {
			sends = append(sends, e.Value.(func(node.Node)))
		}
	}
	self.mu.Unlock()
	for _, send := range sends {
		send(event)
	}
	return len(sends)
}
