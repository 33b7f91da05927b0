package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/executor"
	"pantilt-tracker/internal/protocol"
	"pantilt-tracker/internal/ptz"
	"pantilt-tracker/internal/scheduler"
	"pantilt-tracker/internal/tracking"
	"pantilt-tracker/internal/webrtc"
)

// Config for the server
type Config struct {
	ListenAddr string
	// AuthSecret enables HS256 bearer tokens on /ws when set.
	AuthSecret string
	ICEServers []string
}

// Scheduler is the view of the command scheduler the console needs.
type Scheduler interface {
	Subscribe(buffer int) (<-chan scheduler.Event, func())
	Status() scheduler.Status
}

// LinkSettings reads and swaps the serial link settings.
type LinkSettings interface {
	Settings() executor.Settings
	UpdateSettings(executor.Settings) error
}

// LinkStats reports gate activity.
type LinkStats interface {
	Holding() bool
	Transactions() uint64
}

// Tracker is the frame loop's runtime surface.
type Tracker interface {
	SetEnabled(on bool)
	Enabled() bool
	SetStep(step int) error
}

// Preview is the camera stream relayed to consoles over WebRTC.
type Preview interface {
	Subscribe(buffer int) (<-chan []byte, func())
	Connected() bool
	URL() string
}

// Deps are the components the console drives. Only Controller, Scheduler
// and Link are required.
type Deps struct {
	Controller ptz.Controller
	Scheduler  Scheduler
	Link       LinkSettings
	Stats      LinkStats
	Tracker    Tracker
	Overlays   *tracking.Mailbox[tracking.Annotation]
	Preview    Preview
}

// Server is the operator console: static files plus a websocket per client
type Server struct {
	cfg      Config
	deps     Deps
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	staticFS fs.FS

	clientsMu sync.RWMutex
	clients   map[*Client]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpMu  sync.Mutex
	httpSrv *http.Server
}

// New creates a server. staticFS must contain a web directory.
func New(cfg Config, deps Deps, staticFS fs.FS, logger *logrus.Logger) (*Server, error) {
	if deps.Controller == nil || deps.Scheduler == nil || deps.Link == nil {
		return nil, errors.New("server: controller, scheduler and link are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	webFS, err := fs.Sub(staticFS, "web")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		staticFS: webFS,
		clients:  make(map[*Client]bool),
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}

	events, unsubscribe := deps.Scheduler.Subscribe(64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.broadcastEvents(events)
	}()

	if deps.Overlays != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.broadcastOverlays()
		}()
	}

	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/", http.FileServer(http.FS(s.staticFS)))
	return mux
}

// Start serves until Stop.
func (s *Server) Start() error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler()}
	s.httpMu.Lock()
	s.httpSrv = srv
	s.httpMu.Unlock()

	s.logger.WithField("addr", s.cfg.ListenAddr).Info("Console listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes every client and the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.clientsMu.Unlock()

	var err error
	s.httpMu.Lock()
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.httpMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) broadcastEvents(events <-chan scheduler.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := outcomePayload(ev)
			status := s.status()
			s.forEachClient(func(c *Client) {
				c.sendMessage(protocol.TypeOutcome, payload)
				c.sendMessage(protocol.TypeStatus, status)
			})
		}
	}
}

func (s *Server) broadcastOverlays() {
	for {
		ann, err := s.deps.Overlays.Next(s.ctx)
		if err != nil {
			return
		}
		payload := overlayPayload(ann)
		s.forEachClient(func(c *Client) {
			c.overlays.Publish(payload)
		})
	}
}

func (s *Server) broadcastStatus() {
	status := s.status()
	s.forEachClient(func(c *Client) {
		c.sendMessage(protocol.TypeStatus, status)
	})
}

func (s *Server) forEachClient(fn func(*Client)) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		fn(client)
	}
}

func (s *Server) addClient(c *Client) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

func (s *Server) status() protocol.StatusPayload {
	settings := s.deps.Link.Settings()
	st := s.deps.Scheduler.Status()

	p := protocol.StatusPayload{
		Port:        settings.Port,
		BaudRate:    settings.BaudRate,
		Destination: settings.Destination.String(),
		CanCancel:   st.CanCancel,
		Step:        s.deps.Controller.Step(),
	}
	if st.InFlight != nil {
		p.InFlight = st.InFlight.String()
	}
	if st.Last != nil && st.Last.Outcome != nil {
		p.LastMessage = st.Last.Outcome.Message()
	}
	if s.deps.Stats != nil {
		p.LinkHeld = s.deps.Stats.Holding()
		p.Transactions = s.deps.Stats.Transactions()
	}
	if s.deps.Tracker != nil {
		p.TrackingReady = true
		p.Tracking = s.deps.Tracker.Enabled()
	}
	if s.deps.Preview != nil {
		p.PreviewURL = s.deps.Preview.URL()
		p.PreviewLive = s.deps.Preview.Connected()
	}
	return p
}

func (s *Server) webrtcConfig() webrtc.Config {
	if len(s.cfg.ICEServers) == 0 {
		return webrtc.DefaultConfig()
	}
	return webrtc.Config{ICEServers: s.cfg.ICEServers}
}

func outcomePayload(ev scheduler.Event) protocol.OutcomePayload {
	p := protocol.OutcomePayload{
		Kind:      string(ev.Kind),
		TicketID:  ev.TicketID.String(),
		Command:   ev.Command,
		Data:      ev.Data,
		CanCancel: ev.CanCancel,
	}
	if ev.Outcome != nil {
		p.Status = ev.Outcome.Status.String()
		p.Message = ev.Outcome.Message()
	}
	return p
}

func overlayBox(b tracking.Box) protocol.OverlayBox {
	return protocol.OverlayBox{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

func overlayPayload(a tracking.Annotation) protocol.OverlayPayload {
	p := protocol.OverlayPayload{
		Seq:         a.Seq,
		FrameWidth:  a.FrameWidth,
		FrameHeight: a.FrameHeight,
		Boxes:       make([]protocol.OverlayBox, 0, len(a.Boxes)),
		Command:     a.Command,
		Tracking:    a.Tracking,
	}
	for _, b := range a.Boxes {
		p.Boxes = append(p.Boxes, overlayBox(b))
	}
	if a.Target != nil {
		t := overlayBox(*a.Target)
		p.Target = &t
	}
	return p
}
