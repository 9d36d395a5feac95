// Package config loads fc-broker settings from a TOML file
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/freeconf/broker"
	"github.com/freeconf/broker/store"
	"github.com/freeconf/yang/fc"
)

type Config struct {
	Debug     bool
	Listen    string
	Transport broker.Transport
	BasePath  string

	// Names is the stream name generator, "uuid" or "ulid"
	Names string

	// YangPath is searched for modules after the built in ones
	YangPath string

	// Modules the local device serves, their notifications are what
	// notification streams can subscribe to
	Modules []string

	Store   StoreConfig
	Tls     *TlsConfig
	Devices []DeviceConfig
}

type StoreConfig struct {
	// Kind is "memory" or "pebble"
	Kind          string
	DataDir       string
	Fsync         store.FsyncMode
	FsyncInterval time.Duration
}

type TlsConfig struct {
	CertFile string
	KeyFile  string
}

// DeviceConfig mounts a device serving the given modules under id
type DeviceConfig struct {
	ID      string
	Modules []string
}

func Default() Config {
	return Config{
		Listen:    ":8080",
		Transport: broker.SSE,
		BasePath:  broker.DefaultBasePath,
		Names:     "uuid",
		YangPath:  "./yang",
		Store: StoreConfig{
			Kind:          "memory",
			DataDir:       "./var/streams",
			Fsync:         store.FsyncModeInterval,
			FsyncInterval: 5 * time.Millisecond,
		},
	}
}

type fileConfig struct {
	Debug     bool         `toml:"debug"`
	Listen    string       `toml:"listen"`
	Transport string       `toml:"transport"`
	BasePath  string       `toml:"base_path"`
	Names     string       `toml:"names"`
	YangPath  string       `toml:"yang_path"`
	Modules   []string     `toml:"modules"`
	Store     fileStore    `toml:"store"`
	Tls       fileTls      `toml:"tls"`
	Devices   []fileDevice `toml:"devices"`
}

type fileStore struct {
	Kind          string `toml:"kind"`
	DataDir       string `toml:"data_dir"`
	Fsync         string `toml:"fsync"`
	FsyncInterval string `toml:"fsync_interval"`
}

type fileTls struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type fileDevice struct {
	ID      string   `toml:"id"`
	Modules []string `toml:"modules"`
}

// Load reads path over the defaults. Only settings present in the file
// replace defaults.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(Default(), raw, meta)
}

// Parse is Load for config already in memory
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("transport") {
		t, err := broker.ParseTransport(strings.TrimSpace(raw.Transport))
		if err != nil {
			return Config{}, err
		}
		cfg.Transport = t
	}
	if meta.IsDefined("base_path") {
		cfg.BasePath = strings.Trim(strings.TrimSpace(raw.BasePath), "/")
	}
	if meta.IsDefined("names") {
		cfg.Names = strings.ToLower(strings.TrimSpace(raw.Names))
		if _, valid := broker.NamesByKind(cfg.Names); !valid {
			return Config{}, fmt.Errorf("%w. unknown names '%s'", fc.BadRequestError, raw.Names)
		}
	}
	if meta.IsDefined("yang_path") {
		cfg.YangPath = strings.TrimSpace(raw.YangPath)
	}
	if meta.IsDefined("modules") {
		cfg.Modules = normalize(raw.Modules)
	}
	if meta.IsDefined("store", "kind") {
		switch kind := strings.ToLower(strings.TrimSpace(raw.Store.Kind)); kind {
		case "memory", "pebble":
			cfg.Store.Kind = kind
		default:
			return Config{}, fmt.Errorf("%w. unknown store kind '%s'", fc.BadRequestError, raw.Store.Kind)
		}
	}
	if meta.IsDefined("store", "data_dir") {
		cfg.Store.DataDir = strings.TrimSpace(raw.Store.DataDir)
	}
	if meta.IsDefined("store", "fsync") {
		mode, err := parseFsync(raw.Store.Fsync)
		if err != nil {
			return Config{}, err
		}
		cfg.Store.Fsync = mode
	}
	if meta.IsDefined("store", "fsync_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Store.FsyncInterval))
		if err != nil {
			return Config{}, fmt.Errorf("%w. parse fsync_interval. %s", fc.BadRequestError, err)
		}
		cfg.Store.FsyncInterval = d
	}
	if meta.IsDefined("tls") {
		if raw.Tls.CertFile == "" || raw.Tls.KeyFile == "" {
			return Config{}, fmt.Errorf("%w. tls needs both cert_file and key_file", fc.BadRequestError)
		}
		cfg.Tls = &TlsConfig{CertFile: raw.Tls.CertFile, KeyFile: raw.Tls.KeyFile}
	}
	if meta.IsDefined("devices") {
		seen := make(map[string]bool)
		for _, d := range raw.Devices {
			id := strings.TrimSpace(d.ID)
			if id == "" || seen[id] {
				return Config{}, fmt.Errorf("%w. devices need a unique id, got '%s'", fc.BadRequestError, d.ID)
			}
			seen[id] = true
			cfg.Devices = append(cfg.Devices, DeviceConfig{ID: id, Modules: normalize(d.Modules)})
		}
	}
	return cfg, nil
}

func parseFsync(s string) (store.FsyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always":
		return store.FsyncModeAlways, nil
	case "interval":
		return store.FsyncModeInterval, nil
	case "never":
		return store.FsyncModeNever, nil
	}
	return store.FsyncModeUnspecified, fmt.Errorf("%w. unknown fsync '%s'", fc.BadRequestError, s)
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
