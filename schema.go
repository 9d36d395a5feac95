package broker

import (
	"strings"

	"github.com/freeconf/broker/stream"
	"github.com/freeconf/yang/meta"
)

// Schema is the set of YANG modules identifiers are resolved against.
// device.Device satisfies it.
type Schema interface {
	Modules() map[string]*meta.Module
}

type hasNotifications interface {
	Notifications() map[string]*meta.Notification
}

type hasDataDefinitions interface {
	DataDefinitions() []meta.Definition
}

type hasActions interface {
	Actions() map[string]*meta.Rpc
}

// resolveNotification checks q names a notification in schema. Ident may
// be a path through containers to a nested notification.
func resolveNotification(schema Schema, q stream.QName) (*meta.Notification, error) {
	m := schema.Modules()[q.Module]
	if m == nil {
		return nil, invalid(ErrUnknownModule, "%s", q)
	}
	var parent meta.Meta = m
	segs := strings.Split(q.Ident, "/")
	for i, ident := range segs {
		if i == len(segs)-1 {
			if n, ok := parent.(hasNotifications); ok {
				if notif := n.Notifications()[ident]; notif != nil {
					return notif, nil
				}
			}
			if findDataDef(parent, ident) != nil {
				return nil, invalid(ErrNotNotification, "%s", q)
			}
			if a, ok := parent.(hasActions); ok && a.Actions()[ident] != nil {
				return nil, invalid(ErrNotNotification, "%s", q)
			}
			break
		}
		def := findDataDef(parent, ident)
		if def == nil {
			break
		}
		parent = def
	}
	return nil, invalid(ErrUnknownNotification, "%s", q)
}

// resolveDataPath checks every segment of p names a data node in schema
// and that only lists carry keys
func resolveDataPath(schema Schema, p stream.Path) error {
	mods := schema.Modules()
	var parent meta.Meta
	for _, seg := range p {
		if seg.Module != "" && mods[seg.Module] == nil {
			return invalid(ErrUnknownModule, "%s", p)
		}
		if parent == nil {
			parent = mods[seg.Module]
		}
		def := findDataDef(parent, seg.Ident)
		if def == nil {
			return invalid(ErrUnknownNode, "%s", p)
		}
		if _, isList := def.(*meta.List); len(seg.Keys) > 0 && !isList {
			return invalid(ErrUnknownNode, "%s has keys but %s is not a list", p, seg.Ident)
		}
		parent = def
	}
	return nil
}

func findDataDef(parent meta.Meta, ident string) meta.Definition {
	p, ok := parent.(hasDataDefinitions)
	if !ok {
		return nil
	}
	for _, def := range p.DataDefinitions() {
		if def.Ident() == ident {
			return def
		}
	}
	return nil
}

// notificationPaths enumerates every notification in the schema that can be
// reached without list keys, in canonical order.
func notificationPaths(schema Schema) []stream.QName {
	var paths []stream.QName
	for name, m := range schema.Modules() {
		collectNotifications(name, "", m, &paths)
	}
	return stream.SortQNames(paths)
}

func collectNotifications(module string, prefix string, parent meta.Meta, paths *[]stream.QName) {
	if n, ok := parent.(hasNotifications); ok {
		for ident := range n.Notifications() {
			*paths = append(*paths, stream.QName{Module: module, Ident: prefix + ident})
		}
	}
	p, ok := parent.(hasDataDefinitions)
	if !ok {
		return
	}
	for _, def := range p.DataDefinitions() {
		if c, isContainer := def.(*meta.Container); isContainer {
			collectNotifications(module, prefix+c.Ident()+"/", c, paths)
		}
	}
}
