package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/erkyrath/remote-if-demo/glkote"
)

// Server is the transcript-side HTTP server: it receives recorder updates
// from a playing GlkOte instance and serves live views of each game over
// WebSockets.
type Server struct {
	log   *zap.SugaredLogger
	store *Store

	listenAddr string
	httpServer *http.Server
}

type Option func(s *Server)

// WithLogger sets the server's logger; a no-op logger is used otherwise.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithListenAddr sets the address Run listens on.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		log:        zap.NewNop().Sugar(),
		listenAddr: "0.0.0.0:4000",
	}
	for _, o := range opts {
		o(s)
	}
	s.store = NewStore(s.log)
	return s
}

// Store exposes the game/connection registry, for tests and embedding
// servers.
func (s *Server) Store() *Store {
	return s.store
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/", s.listGames)
	router.GET("/record", s.recordBanner)
	router.POST("/record", s.record)
	router.GET("/repeat/:sid", s.repeat)
	router.GET("/websocket/:sid", s.viewerSocket)
	return router
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	server := &http.Server{Handler: s.Handler()}
	s.httpServer = server
	s.log.Infof("transcript server listening on %s", s.listenAddr)
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// listGames is the menu of recorded games, ordered by launch time. Page
// rendering is a collaborator's job; this answers JSON.
func (s *Server) listGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	type entry struct {
		ID       string  `json:"id"`
		Label    string  `json:"label"`
		Launched float64 `json:"launched"`
	}
	games := s.store.Games()
	ls := make([]entry, 0, len(games))
	for _, g := range games {
		ls = append(ls, entry{ID: g.ID, Label: g.Label, Launched: g.Launched})
	}
	writeJSON(w, ls)
}

func (s *Server) recordBanner(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	io.WriteString(w, "This is transcript-if.")
}

// record ingests one recorder update. A malformed envelope is logged and
// dropped without touching any game's cached state; the "Ok" reply is
// ignored by the GlkOte library that sent the update.
func (s *Server) record(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := glkote.ParseUpdate(body)
	if err != nil {
		s.log.Warnf("dropping recorder update: %s", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.store.Publish(u)
	io.WriteString(w, "Ok")
}

// repeat is the view page for one game; unknown session ids are 404. The
// page itself is rendered by a collaborator.
func (s *Server) repeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sid := params.ByName("sid")
	if !s.store.Has(sid) {
		http.Error(w, "no such session id", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"id": sid})
}

// viewerSocket subscribes a viewer to a game's live updates. The viewer
// client never sends messages; the read loop exists only to observe the
// disconnect, which releases the subscription.
func (s *Server) viewerSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sid := params.ByName("sid")
	if !s.store.Has(sid) {
		http.Error(w, "no such session id", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("viewer websocket accept error: %s", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exited")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID, err := s.store.Subscribe(ctx, sid, wsSender{conn: conn})
	if err != nil {
		conn.Close(websocket.StatusInternalError, err.Error())
		return
	}
	defer s.store.Unsubscribe(connID)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Debugf("viewer %s: read error: %s", connID, err)
			}
			return
		}
	}
}

// wsSender pushes viewer messages over a WebSocket connection.
type wsSender struct {
	conn *websocket.Conn
}

func (s wsSender) Send(ctx context.Context, v any) error {
	return wsjson.Write(ctx, s.conn, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
