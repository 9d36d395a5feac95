package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/freeconf/broker"
	"github.com/freeconf/broker/config"
	"github.com/freeconf/broker/device"
	"github.com/freeconf/broker/stock"
	"github.com/freeconf/broker/store"
	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/source"
)

const Version = "0.1.0"

const usage = `RESTCONF event stream broker.

Allocates data change, notification and device notification streams and
delivers their events over SSE or WebSocket.

Usage:
    fc-broker [--config=<file>] [--debug]
    fc-broker -h | --help
    fc-broker --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<file>    TOML configuration file.
    --debug            Enable debug logging.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	chkErr(err)

	cfg := config.Default()
	if file, _ := opts.String("--config"); file != "" {
		cfg, err = config.Load(file)
		chkErr(err)
	}
	if debug, _ := opts.Bool("--debug"); debug {
		cfg.Debug = true
	}
	fc.DebugLog(cfg.Debug)

	ypath := source.Any(broker.InternalYPath, source.Dir(cfg.YangPath))

	st, err := openStore(cfg.Store)
	chkErr(err)
	defer st.Close()

	// configured modules have no data of their own, their notifications are
	// raised with the publish-notification rpc
	devices := device.NewLocalMap()
	defer devices.Close()
	for _, dc := range cfg.Devices {
		d := device.NewLocal(ypath)
		for _, module := range dc.Modules {
			_, err := d.Load(module)
			chkErr(err)
		}
		devices.Add(dc.ID, d)
	}

	// local device holds the notifications notification streams subscribe to,
	// fc-broker's own device-update included
	local := device.NewLocal(ypath)
	for _, module := range cfg.Modules {
		_, err := local.Load(module)
		chkErr(err)
	}
	names, _ := broker.NamesByKind(cfg.Names)
	b, err := broker.Open(context.Background(), st, broker.Options{
		Names:         names,
		Schema:        local,
		Notifications: local,
		MountPoints:   device.NewMountPoints(devices),
	})
	chkErr(err)

	srv, err := broker.NewServer(b, st, ypath)
	chkErr(err)
	srv.Ver = Version
	srv.Transport = cfg.Transport
	srv.BasePath = cfg.BasePath
	srv.Devices = device.MapNode(devices)
	local.AddBrowser(srv.Browser())

	srv.Web = stock.NewHttpServer(srv)
	webOpts := stock.HttpServerOptions{Addr: cfg.Listen}
	if cfg.Tls != nil {
		webOpts.Tls = &stock.Tls{CertFile: cfg.Tls.CertFile, KeyFile: cfg.Tls.KeyFile}
	}
	srv.Web.ApplyOptions(webOpts)
	defer srv.Close()
	fc.Info.Printf("fc-broker %s listening on %s, %s streams", Version, cfg.Listen, cfg.Transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	fc.Info.Printf("fc-broker shutting down")
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Kind == "pebble" {
		return store.OpenPebble(store.PebbleOptions{
			DataDir:       cfg.DataDir,
			Fsync:         cfg.Fsync,
			FsyncInterval: cfg.FsyncInterval,
		})
	}
	return store.NewMemory(), nil
}

func chkErr(err error) {
	if err != nil {
		fc.Err.Fatal(err)
	}
}
