// Package device holds the data trees the broker can reach, the local one
// and any number of mounted ones addressed by device id.
package device

import (
	"github.com/freeconf/yang/meta"
	"github.com/freeconf/yang/node"
)

type Device interface {
	Browser(module string) (*node.Browser, error)
	Modules() map[string]*meta.Module
	Close()
}
