package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/app/orch"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// SignalWSController terminates client WebSockets and dispatches their
// events to the registry, the relay and the call orchestrator.
type SignalWSController struct {
	Registry *app.Registry
	Relay    *app.Relay
	Orch     *orch.Orchestrator
	Limiter  *app.RateLimiter
	Opts     Options

	validate *validator.Validate
	base     context.Context
	stop     context.CancelFunc

	mu      sync.Mutex
	closing bool
	conns   map[core.ConnID]*wsSignalConn
	pumps   sync.WaitGroup
}

func NewSignalWSController(reg *app.Registry, relay *app.Relay, o *orch.Orchestrator, limiter *app.RateLimiter, opts Options) *SignalWSController {
	base, stop := context.WithCancel(context.Background())
	return &SignalWSController{
		Registry: reg,
		Relay:    relay,
		Orch:     o,
		Limiter:  limiter,
		Opts:     opts.withDefaults(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		base:     base,
		stop:     stop,
		conns:    make(map[core.ConnID]*wsSignalConn),
	}
}

type wsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. The write pump flushes what is queued and
// then closes the socket.
func (c *wsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(c *gin.Context) {
	ctl.mu.Lock()
	closing := ctl.closing
	ctl.mu.Unlock()
	if closing {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	id := core.ConnID(uuid.NewString())
	l := log.With().Str("module", "signal").Str("conn", string(id)).Str("client", c.GetString("client_token")).Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, ctl.Opts.SendBuffer),
	}

	ctl.mu.Lock()
	if ctl.closing {
		ctl.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	ctl.conns[id] = conn
	ctl.pumps.Add(2)
	ctl.mu.Unlock()

	ctx, cancel := context.WithCancel(ctl.base)
	ctl.Registry.BindSignal(id, conn, cancel)
	l.Info().Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *SignalWSController) forget(id core.ConnID) {
	ctl.mu.Lock()
	delete(ctl.conns, id)
	ctl.mu.Unlock()
}

// ActiveConnections is the number of open sockets.
func (ctl *SignalWSController) ActiveConnections() int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return len(ctl.conns)
}

// CloseAll refuses new sockets, flushes queued frames on every open one and
// waits for the pumps. Sockets still open when ctx expires are cut.
func (ctl *SignalWSController) CloseAll(ctx context.Context) error {
	ctl.mu.Lock()
	ctl.closing = true
	conns := make([]*wsSignalConn, 0, len(ctl.conns))
	for _, c := range ctl.conns {
		conns = append(conns, c)
	}
	ctl.mu.Unlock()

	log.Info().Str("module", "signal").Int("connections", len(conns)).Msg("closing all connections")
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		ctl.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		ctl.stop()
		return nil
	case <-ctx.Done():
		ctl.stop()
		for _, c := range conns {
			_ = c.conn.Close()
		}
		return ctx.Err()
	}
}
