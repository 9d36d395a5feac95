package broker

import (
	"embed"

	"github.com/freeconf/yang"
	"github.com/freeconf/yang/source"
)

//go:embed yang/*.yang
var internal embed.FS

// InternalYPath finds fc-broker.yang along with the yang definitions
// freeconf itself ships.
var InternalYPath = source.Any(yang.InternalYPath, source.EmbedDir(internal, "yang"))
