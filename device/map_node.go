package device

import (
	"sort"

	"github.com/freeconf/yang/meta"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
	"github.com/freeconf/yang/val"
)

type updater interface {
	OnUpdate(l ChangeListener) func()
}

func (c Change) String() string {
	if c == Removed {
		return "removed"
	}
	return "added"
}

// MapNode lists mounted devices and their modules. When mgr can report
// changes they are sent as device-update notifications.
func MapNode(mgr Map) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "devices":
				return &nodeutil.Basic{
					OnChild: func(r node.ChildRequest) (node.Node, error) {
						if r.Meta.Ident() == "device" {
							return deviceListNode(mgr), nil
						}
						return nil, nil
					},
				}, nil
			}
			return nil, nil
		},
		OnNotify: func(r node.NotifyRequest) (node.NotifyCloser, error) {
			switch r.Meta.Ident() {
			case "device-update":
				u, canUpdate := mgr.(updater)
				if !canUpdate {
					return nil, nil
				}
				unsub := u.OnUpdate(func(d Device, id string, c Change) {
					r.Send(deviceChangeNode(id, d, c))
				})
				return func() error {
					unsub()
					return nil
				}, nil
			}
			return nil, nil
		},
	}
}

func deviceChangeNode(id string, d Device, c Change) node.Node {
	return &nodeutil.Extend{
		Base: deviceNode(id, d),
		OnField: func(p node.Node, r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "change":
				hnd.Val = val.String(c.String())
			default:
				return p.Field(r, hnd)
			}
			return nil
		},
	}
}

func deviceListNode(devices Map) node.Node {
	return &nodeutil.Basic{
		OnNext: func(r node.ListRequest) (node.Node, []val.Value, error) {
			key := r.Key
			var id string
			if key != nil {
				id = key[0].String()
			} else if ids := devices.DeviceIds(); r.Row < len(ids) {
				id = ids[r.Row]
				key = []val.Value{val.String(id)}
			} else {
				return nil, nil, nil
			}
			d, err := devices.Device(id)
			if err != nil || d == nil {
				return nil, nil, nil
			}
			return deviceNode(id, d), key, nil
		},
	}
}

func deviceNode(id string, d Device) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "module":
				return deviceModuleList(d.Modules()), nil
			}
			return nil, nil
		},
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "device-id":
				hnd.Val = val.String(id)
			}
			return nil
		},
	}
}

func deviceModuleList(mods map[string]*meta.Module) node.Node {
	names := make([]string, 0, len(mods))
	for name := range mods {
		names = append(names, name)
	}
	sort.Strings(names)
	return &nodeutil.Basic{
		OnNext: func(r node.ListRequest) (node.Node, []val.Value, error) {
			key := r.Key
			var m *meta.Module
			if key != nil {
				m = mods[key[0].String()]
			} else if r.Row < len(names) {
				m = mods[names[r.Row]]
				key = []val.Value{val.String(names[r.Row])}
			}
			if m != nil {
				return deviceModuleNode(m), key, nil
			}
			return nil, nil, nil
		},
	}
}

func deviceModuleNode(m *meta.Module) node.Node {
	return &nodeutil.Basic{
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "name":
				hnd.Val = val.String(m.Ident())
			case "revision":
				if rev := m.Revision(); rev != nil {
					hnd.Val = val.String(rev.Ident())
				}
			}
			return nil
		},
	}
}
