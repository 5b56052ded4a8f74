package ioserver

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/ioserver/httpconn"
	"github.com/pascalcombier/comexe/internal/ioserver/websocket"
)

// Drainer is the subset of *instance.Instance the scheduler needs:
// one non-blocking event-bus drain pass per tick (spec.md §4.D "The
// loop integrates the cross-thread event bus by interleaving one
// event-processing pass per loop tick").
type Drainer interface {
	DrainOnce() (int, error)
}

// HandlerFunc invokes the bound application's request operation
// (spec.md §4.D "Request dispatch"). Implementations normally close
// over an *instance.Instance and call Interpreter().CallRequestHandler.
type HandlerFunc func(req *httpconn.Request) DispatchResult

// Config configures one Scheduler: one cooperative loop per instance,
// zero or more bound listeners, sharing the instance's Dispatcher.
type Config struct {
	Drainer     Drainer
	Handler     HandlerFunc
	HandlerName string
	Log         *zap.Logger

	TickInterval time.Duration // how often DrainOnce/dispatch-drain run when idle; default 10ms
}

// Scheduler is spec.md §4.D's "single cooperative scheduler inside
// that instance": one goroutine that alternates between draining the
// event bus and draining pending HTTP dispatch jobs, until Stop is
// called. Listeners run their own accept/connection goroutines (the
// idiomatic Go rendition of "coroutines that yield on I/O") and only
// cross back onto this goroutine at the point that needs the
// interpreter: request dispatch.
type Scheduler struct {
	cfg        Config
	dispatcher *Dispatcher
	listeners  []*Listener
	stop       chan struct{}
	done       chan struct{}
}

// New creates a Scheduler. Bind listeners with AddListener before
// calling Run.
func New(cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		dispatcher: NewDispatcher(64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// AddListener composes one HTTP listener bound to this scheduler's
// dispatcher (spec.md §2 "Each instance that chooses to be a server
// composes one or more listeners from D").
func (s *Scheduler) AddListener(l net.Listener, maxReqs int) *Listener {
	lst := &Listener{raw: l, dispatcher: s.dispatcher, maxReqs: maxReqs, log: s.cfg.Log}
	s.listeners = append(s.listeners, lst)
	return lst
}

// Run starts every listener's accept loop and then runs the scheduler
// tick loop until Stop is called. It blocks, so callers run it on its
// own goroutine (conventionally the instance's own, since
// Handler ends up calling into that instance's interpreter).
func (s *Scheduler) Run() {
	for _, l := range s.listeners {
		go l.acceptLoop()
	}
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			for _, l := range s.listeners {
				_ = l.raw.Close()
			}
			return
		case <-ticker.C:
			if s.cfg.Drainer != nil {
				if _, err := s.cfg.Drainer.DrainOnce(); err != nil {
					s.cfg.Log.Error("event bus drain failed", zap.Error(err))
				}
			}
			if s.cfg.Handler != nil {
				s.dispatcher.Drain(s.cfg.Handler)
			}
		}
	}
}

// Stop ends the scheduler loop and closes every bound listener. It
// does not wait for in-flight connections to finish; callers that need
// that wait on Done().
func (s *Scheduler) Stop() { close(s.stop) }

// Done reports when Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Listener accepts connections for one bound address and runs each
// connection's HTTP keep-alive loop on its own goroutine, handing each
// fully-read Request to the scheduler's Dispatcher.
type Listener struct {
	raw        net.Listener
	dispatcher *Dispatcher
	maxReqs    int
	log        *zap.Logger

	onUpgrade func(conn *httpconn.Conn, req *httpconn.Request)
}

// OnUpgrade installs the callback invoked when a handler signals
// upgrade (spec.md §4.D "ownership of the underlying adapter passes to
// whatever protocol took over"); typically wraps conn.Raw with
// websocket.NewConn after writing the 101 response.
func (l *Listener) OnUpgrade(fn func(conn *httpconn.Conn, req *httpconn.Request)) {
	l.onUpgrade = fn
}

func (l *Listener) acceptLoop() {
	for {
		raw, err := l.raw.Accept()
		if err != nil {
			return // listener closed; Scheduler.Run's Stop path already closed l.raw
		}
		go l.serve(raw)
	}
}

func (l *Listener) serve(raw net.Conn) {
	conn := httpconn.NewConn(raw, l.maxReqs)
	defer func() {
		if conn.State != httpconn.StateUpgraded {
			_ = conn.Close()
		}
	}()

	for {
		req, err := conn.NextRequest()
		if err != nil {
			return
		}

		result := l.dispatcher.Dispatch(req)
		if result.Err != nil {
			l.log.Warn("request handler error", zap.Error(result.Err))
			resp := httpconn.Format(httpconn.Response{Status: 500, Content: []byte("internal error")}, false)
			_, _ = conn.Raw.Write(resp)
			return
		}

		if result.Upgrade {
			if l.onUpgrade != nil {
				conn.MarkUpgraded()
				l.onUpgrade(conn, req)
			}
			return
		}

		closing := req.KeepAliveForced || !req.KeepAlive
		resp := httpconn.Response{Status: result.Status, Header: result.Header, Content: result.Body}
		wire := httpconn.Format(resp, !closing)
		if _, err := conn.Raw.Write(wire); err != nil {
			return
		}
		if closing {
			return
		}
	}
}

// UpgradeToWebSocket is a convenience OnUpgrade implementation:
// performs the 101 handshake response then hands the raw connection to
// the caller as a *websocket.Conn for the RFC 6455 receive/send loop.
func UpgradeToWebSocket(protocol string) func(conn *httpconn.Conn, req *httpconn.Request) *websocket.Conn {
	return func(conn *httpconn.Conn, req *httpconn.Request) *websocket.Conn {
		clientKey := req.Header["sec-websocket-key"]
		headers := websocket.HandshakeResponse(clientKey, protocol)
		resp := httpconn.Response{Status: 101, Header: headers}
		wire := httpconn.Format(resp, false)
		_, _ = conn.Raw.Write(wire)
		return websocket.NewConn(conn.Raw)
	}
}
