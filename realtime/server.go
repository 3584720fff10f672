package realtime

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	DefaultMaxFrameSize = 4096
	DefaultPingInterval = 54 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

type ServerConfig struct {
	// Page is served at the root path.
	Page []byte
	// Api handles everything below /api/ if set.
	Api          http.Handler
	OnReceive    ReceiveCallback
	MaxFrameSize int64
	PingInterval time.Duration
	PongTimeout  time.Duration
	Logger       Logger
}

type Server struct {
	log          Logger
	page         []byte
	api          http.Handler
	onReceive    ReceiveCallback
	maxFrameSize int64
	pingInterval time.Duration
	pongTimeout  time.Duration
	upgrader     *websocket.Upgrader

	mu      sync.Mutex
	server  *http.Server
	channel *Channel
	addr    net.Addr
	// peers holds every open websocket, attached or replaced.
	peers map[*peer]struct{}
}

func NewServer(config *ServerConfig) *Server {
	s := &Server{
		page:         config.Page,
		api:          config.Api,
		onReceive:    config.OnReceive,
		maxFrameSize: config.MaxFrameSize,
		pingInterval: config.PingInterval,
		pongTimeout:  config.PongTimeout,
		upgrader:     &websocket.Upgrader{},
		peers:        make(map[*peer]struct{}),
	}

	if s.maxFrameSize <= 0 {
		s.maxFrameSize = DefaultMaxFrameSize
	}

	if s.pingInterval <= 0 {
		s.pingInterval = DefaultPingInterval
	}

	if s.pongTimeout <= 0 {
		s.pongTimeout = DefaultPongTimeout
	}

	if config.Logger != nil {
		s.log = config.Logger
	} else {
		s.log = noopLogger{}
	}

	return s
}

// Start serves on the listener until Stop is called.
func (s *Server) Start(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("realtime server is already running")
	}

	channel := NewChannel(&ChannelConfig{
		OnReceive: s.onReceive,
		Logger:    s.log,
	})

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Handle("/", s.handleGetPage()).Methods(http.MethodGet)
	router.Handle("/ws", s.handleWebsocket(channel)).Methods(http.MethodGet)

	if s.api != nil {
		router.PathPrefix("/api/").Handler(s.api)
	}

	server := &http.Server{
		Handler: router,
	}

	go func() {
		err := server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Unable to serve: %v", err)
		}
	}()

	s.server = server
	s.channel = channel
	s.addr = l.Addr()

	s.log.Infof("Serving on %v", l.Addr())

	return nil
}

// Addr returns the address served on, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// Send writes data as a text frame to the attached peer.
func (s *Server) Send(data []byte) error {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	if channel == nil {
		return ErrStopped
	}

	return channel.Send(data)
}

// Stop closes the http server and every open websocket. The server can be
// started again afterwards.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	s.channel.Stop()

	for p := range s.peers {
		err := p.Close()
		if err != nil {
			s.log.Debugf("Could not close peer: %v", err)
		}
		delete(s.peers, p)
	}

	err := s.server.Close()

	s.server = nil
	s.channel = nil
	s.addr = nil

	if err != nil {
		return errors.Errorf("could not close server: %w", err)
	}

	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("Accessing %v %v", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		_, err := w.Write(s.page)
		if err != nil {
			s.log.Debugf("Could not write page: %v", err)
		}
	}
}

func (s *Server) handleWebsocket(channel *Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warnf("Could not upgrade connection: %v", err)
			return
		}

		p := newPeer(c, defaultWriteTimeout)

		if !s.track(p, channel) {
			_ = p.Close()
			return
		}
		defer s.untrack(p)

		err = channel.Attach(p)
		if err != nil {
			_ = p.Close()
			return
		}

		s.log.Infof("Websocket peer %v attached", r.RemoteAddr)

		done := make(chan struct{})
		go s.ping(p, done)

		defer func() {
			close(done)
			channel.Detach(p)
			_ = p.Close()
			s.log.Infof("Websocket peer %v detached", r.RemoteAddr)
		}()

		c.SetReadLimit(s.maxFrameSize)
		_ = c.SetReadDeadline(time.Now().Add(s.pongTimeout))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(s.pongTimeout))
		})

		for {
			messageType, payload, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.log.Errorf("Unexpected websocket closure: %v", err)
				}
				return
			}

			channel.HandleFrame(messageType, payload)
		}
	}
}

// track records an open websocket unless the server moved on from channel.
func (s *Server) track(p *peer, channel *Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != channel {
		return false
	}

	s.peers[p] = struct{}{}

	return true
}

func (s *Server) untrack(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, p)
}

func (s *Server) ping(p *peer, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := p.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				s.log.Debugf("Could not ping peer: %v", err)
				return
			}
		}
	}
}

// peer serializes writes to a websocket connection.
type peer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newPeer(conn *websocket.Conn, writeTimeout time.Duration) *peer {
	return &peer{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (p *peer) WriteMessage(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return websocket.ErrCloseSent
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))

	return p.conn.WriteMessage(messageType, data)
}

func (p *peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	return p.conn.Close()
}
