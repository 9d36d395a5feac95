package stock

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
	"github.com/freeconf/yang/val"
)

type HttpServerOptions struct {
	Addr         string
	ReadTimeout  int
	WriteTimeout int
	Tls          *Tls
}

// Tls holds certificate files for serving https
type Tls struct {
	CertFile string
	KeyFile  string
	Config   tls.Config
}

type HttpServer struct {
	options HttpServerOptions
	Server  *http.Server
	handler http.Handler
	Metrics WebMetrics
}

func NewHttpServer(handler http.Handler) *HttpServer {
	return &HttpServer{
		handler: handler,
	}
}

func (service *HttpServer) Options() HttpServerOptions {
	return service.options
}

// ApplyOptions (re)starts listening with the given options
func (service *HttpServer) ApplyOptions(options HttpServerOptions) {
	if service.Server != nil && options == service.options {
		return
	}
	if service.Server != nil {
		service.Stop()
	}
	service.options = options
	service.Server = &http.Server{
		Addr:    options.Addr,
		Handler: service.handler,
		// streams are long lived so no write timeout unless asked for
		ReadTimeout:    time.Duration(options.ReadTimeout) * time.Millisecond,
		WriteTimeout:   time.Duration(options.WriteTimeout) * time.Millisecond,
		MaxHeaderBytes: 1 << 20,
		ConnState:      service.connectionUpdate,
	}
	chkStartErr := func(err error) {
		if err != nil && err != http.ErrServerClosed {
			fc.Err.Fatal(err)
		}
	}
	if options.Tls != nil {
		service.Server.TLSConfig = &options.Tls.Config
		go func() {
			chkStartErr(service.Server.ListenAndServeTLS(options.Tls.CertFile, options.Tls.KeyFile))
		}()
	} else {
		fc.Info.Printf("serving without TLS, stream locations will use http or ws")
		go func() {
			chkStartErr(service.Server.ListenAndServe())
		}()
	}
}

type WebMetrics struct {
	New      int64
	Active   int64
	Idle     int64
	Hijacked int64
	Closed   int64
}

func (service *HttpServer) connectionUpdate(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		atomic.AddInt64(&service.Metrics.New, 1)
	case http.StateActive:
		atomic.AddInt64(&service.Metrics.Active, 1)
	case http.StateIdle:
		atomic.AddInt64(&service.Metrics.Idle, 1)
	case http.StateHijacked:
		atomic.AddInt64(&service.Metrics.Hijacked, 1)
	case http.StateClosed:
		atomic.AddInt64(&service.Metrics.Closed, 1)
	}
}

func (service *HttpServer) Stop() {
	if service.Server != nil {
		service.Server.Shutdown(context.Background())
	}
}

// WebServerNode exposes connection metrics
func WebServerNode(service *HttpServer) node.Node {
	return &nodeutil.Basic{
		OnChild: func(r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "metrics":
				return metricsNode(&service.Metrics), nil
			}
			return nil, nil
		},
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			switch r.Meta.Ident() {
			case "addr":
				hnd.Val = val.String(service.options.Addr)
			case "tls":
				hnd.Val = val.Bool(service.options.Tls != nil)
			}
			return nil
		},
	}
}

func metricsNode(m *WebMetrics) node.Node {
	return &nodeutil.Basic{
		OnField: func(r node.FieldRequest, hnd *node.ValueHandle) error {
			var counter *int64
			switch r.Meta.Ident() {
			case "new":
				counter = &m.New
			case "active":
				counter = &m.Active
			case "idle":
				counter = &m.Idle
			case "hijacked":
				counter = &m.Hijacked
			case "closed":
				counter = &m.Closed
			default:
				return nil
			}
			hnd.Val = val.Int64(atomic.LoadInt64(counter))
			return nil
		},
	}
}
