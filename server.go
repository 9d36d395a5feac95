package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/freeconf/broker/stock"
	"github.com/freeconf/broker/store"
	"github.com/freeconf/yang/fc"
	"github.com/freeconf/yang/node"
	"github.com/freeconf/yang/nodeutil"
	"github.com/freeconf/yang/parser"
	"github.com/freeconf/yang/source"
)

const module = "fc-broker"

// Server is the RESTCONF front of a broker. Operations create and remove
// streams, data serves the active streams and streams delivers events.
type Server struct {
	Web       *stock.HttpServer
	Transport Transport
	BasePath  string
	Ver       string

	// Devices serves the devices container and device-update notification,
	// see device.MapNode
	Devices node.Node

	broker  *Broker
	store   store.Store
	browser *node.Browser
}

func NewServer(b *Broker, st store.Store, ypath source.Opener) (*Server, error) {
	m, err := parser.LoadModule(ypath, module)
	if err != nil {
		return nil, err
	}
	self := &Server{
		BasePath: DefaultBasePath,
		broker:   b,
		store:    st,
	}
	self.browser = node.NewBrowser(m, self.node())
	return self, nil
}

func (self *Server) node() node.Node {
	return &nodeutil.Extend{
		Base: Manage(self.broker, self.store),
		OnChild: func(p node.Node, r node.ChildRequest) (node.Node, error) {
			switch r.Meta.Ident() {
			case "web":
				if self.Web != nil {
					return stock.WebServerNode(self.Web), nil
				}
				return nil, nil
			case "devices":
				if self.Devices != nil {
					return self.Devices.Child(r)
				}
				return nil, nil
			}
			return p.Child(r)
		},
		OnNotify: func(p node.Node, r node.NotifyRequest) (node.NotifyCloser, error) {
			switch r.Meta.Ident() {
			case "device-update":
				if self.Devices != nil {
					return self.Devices.Notify(r)
				}
				return nil, nil
			}
			return p.Notify(r)
		},
	}
}

// Browser to the fc-broker management api
func (self *Server) Browser() *node.Browser {
	return self.browser
}

func (self *Server) Close() {
	if self.Web != nil {
		self.Web.Stop()
		self.Web = nil
	}
}

func (self *Server) basePath() string {
	if p := strings.Trim(self.BasePath, "/"); p != "" {
		return p
	}
	return DefaultBasePath
}

func (self *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if fc.DebugLogEnabled() {
		fc.Debug.Printf("%s %s", r.Method, r.URL)
	}

	h := w.Header()

	// CORS
	h.Set("Access-Control-Allow-Headers", "origin, content-type, accept")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Origin", "*")
	if r.Method == "OPTIONS" {
		return
	}

	op1, p := shift(r.URL, '/')
	switch op1 {
	case ".ver":
		w.Write([]byte(self.Ver))
		return
	case ".well-known":
		self.serveHostMeta(w, r)
		return
	case self.basePath():
	default:
		handleErr(fmt.Errorf("%w. %s", fc.NotFoundError, r.URL.Path), r, w)
		return
	}
	op2, p := shift(p, '/')
	switch op2 {
	case "operations":
		self.serveOperation(w, r, p.Path)
	case "data":
		self.serveData(w, r, p.Path)
	case "streams":
		self.serveStream(w, r, p.Path)
	default:
		handleErr(fmt.Errorf("%w. %s", fc.NotFoundError, r.URL.Path), r, w)
	}
}

func (self *Server) serveHostMeta(w http.ResponseWriter, r *http.Request) {
	// RESTCONF Sec. 3.1
	fmt.Fprintf(w, `{ "xrd" : { "link" : { "@rel" : "restconf", "@href" : "/%s" } } }`, self.basePath())
}

func (self *Server) serveOperation(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != "POST" {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	mod, rpc, found := strings.Cut(path, ":")
	if !found || mod != module {
		handleErr(fmt.Errorf("%w. operation %s", fc.NotFoundError, path), r, w)
		return
	}
	input, err := requestInput(r)
	if handleErr(err, r, w) {
		return
	}
	ctx := WithBaseLocation(r.Context(), self.Transport.BaseStreamLocation(r, self.basePath()))
	sel, err := self.browser.RootWithContext(ctx).Find(rpc)
	if handleErr(err, r, w) {
		return
	}
	if sel == nil {
		handleErr(fmt.Errorf("%w. operation %s", fc.NotFoundError, path), r, w)
		return
	}
	out, err := sel.Action(input)
	if handleErr(err, r, w) {
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	body, err := nodeutil.WriteJSON(out)
	if handleErr(err, r, w) {
		return
	}
	w.Header().Set("Content-Type", "application/yang-data+json")
	fmt.Fprintf(w, `{"%s:output":%s}`, module, body)
}

// requestInput accepts the input object with or without the RFC8040
// "module:input" wrapper
func requestInput(r *http.Request) (node.Node, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w. %s", fc.BadRequestError, err)
	}
	for _, wrapper := range []string{module + ":input", "input"} {
		if inner, found := doc[wrapper]; found && len(doc) == 1 {
			data = inner
			break
		}
	}
	return nodeutil.ReadJSON(string(data))
}

func (self *Server) serveData(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != "GET" {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if path != module+":restconf-state" && path != module+":restconf-state/streams" {
		handleErr(fmt.Errorf("%w. %s", fc.NotFoundError, path), r, w)
		return
	}
	recs, err := self.store.List(r.Context())
	if handleErr(err, r, w) {
		return
	}
	xml := wantsXml(r)
	body, err := store.MarshalStreams(recs, xml)
	if handleErr(err, r, w) {
		return
	}
	if xml {
		w.Header().Set("Content-Type", "application/yang-data+xml")
		fmt.Fprintf(w, `<restconf-state xmlns="http://freeconf.org/broker">%s</restconf-state>`, body)
		return
	}
	w.Header().Set("Content-Type", "application/yang-data+json")
	fmt.Fprintf(w, `{"%s:restconf-state":%s}`, module, body)
}

func (self *Server) serveStream(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != "GET" {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	s, found := self.broker.LookupStream(name)
	if !found {
		handleErr(&Error{Tag: TagInvalidValue, Reason: ErrStreamNotFound, Detail: name}, r, w)
		return
	}
	if self.Transport == WebSocket {
		serveWebSocket(s, w, r)
		return
	}
	serveSSE(s, w, r)
}
