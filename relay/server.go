package relay

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
)

// Connect modes: how the GlkOte client talks to the server.
const (
	ConnectAJAX = "ajax"
	ConnectWS   = "ws"
)

// Server is the play-side HTTP server. It owns the session registry and
// exposes both GlkOte transports over the same turn protocol: AJAX, where
// each POST resolves one turn synchronously, and WebSocket, where inputs
// are submitted as they arrive and results are pushed as they frame.
type Server struct {
	log      *zap.SugaredLogger
	registry *Registry
	auth     Authenticator

	command    []string
	connect    string
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

// WithConnectMode selects the transport the play page tells clients to
// use, ConnectAJAX or ConnectWS. Both endpoints are served regardless.
func WithConnectMode(mode string) Option {
	return func(s *Server) {
		s.connect = mode
	}
}

// WithAuthenticator replaces the default cookie authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// NewServer builds a play server that launches the given interpreter
// command (argv form) for each session.
func NewServer(command []string, opts ...Option) (*Server, error) {
	if len(command) == 0 {
		return nil, errors.New("no interpreter command")
	}
	s := &Server{
		log:        zap.NewNop().Sugar(),
		command:    command,
		connect:    ConnectAJAX,
		listenAddr: "0.0.0.0:4000",
		auth:       &CookieAuth{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.connect != ConnectAJAX && s.connect != ConnectWS {
		return nil, fmt.Errorf("unsupported connect mode %q", s.connect)
	}
	s.registry = NewRegistry(s.log)
	return s, nil
}

// Registry exposes the session table, for inspection by tests and
// embedding servers.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/", s.home)
	router.POST("/", s.signInOut)
	router.GET("/play", s.playPage)
	router.POST("/play", s.play)
	router.GET("/websocket", s.playSocket)
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
	s.log.Infof("play server listening on %s", s.listenAddr)
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	return s.httpServer.Close()
}

// home reports sign-in state. Page rendering is a collaborator's job; this
// answers JSON.
func (s *Server) home(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{"signedIn": s.auth.Token(r) != ""})
}

// signInOut handles the sign-in form: "signin" issues a fresh random
// session token, "signout" clears it.
func (s *Server) signInOut(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	switch {
	case r.PostFormValue("signin") != "":
		token := s.auth.Issue(w)
		s.log.Infof("signed in token %s", token)
		writeJSON(w, map[string]any{"signedIn": true})
	case r.PostFormValue("signout") != "":
		s.auth.Clear(w)
		writeJSON(w, map[string]any{"signedIn": false})
	default:
		http.Error(w, "unknown form button", http.StatusBadRequest)
	}
}

// playPage is the first authenticated access to the play endpoint: it
// creates the session if needed. The interpreter itself is not launched
// until the first input arrives.
func (s *Server) playPage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := s.auth.Token(r)
	if token == "" {
		http.Error(w, "you are not signed in", http.StatusUnauthorized)
		return
	}
	s.registry.GetOrCreate(token)
	writeJSON(w, map[string]any{"connect": s.connect})
}

// play is the AJAX transport: one POST carries one turn's input, and the
// response body is the turn's framed output document.
func (s *Server) play(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := s.auth.Token(r)
	if token == "" {
		http.Error(w, "you are not signed in", http.StatusUnauthorized)
		return
	}
	sess, ok := s.registry.Get(token)
	if !ok {
		http.Error(w, "no session found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sess.Launch(s.command[0], s.command[1:]...); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := sess.SubmitInput(body); err != nil {
		if errors.Is(err, ErrTurnInFlight) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	msg, err := sess.AwaitResult(r.Context())
	if err != nil {
		if errors.Is(err, ErrSessionTerminated) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Write(msg)
}

// playSocket is the WebSocket transport. Inbound messages are submitted as
// they arrive; a background loop pushes each framed result to the socket
// as soon as it is ready. Unlike AJAX, this transport observes disconnects,
// so the session and its interpreter are torn down when the player leaves.
func (s *Server) playSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := s.auth.Token(r)
	if token == "" {
		http.Error(w, "you are not signed in", http.StatusUnauthorized)
		return
	}
	sess := s.registry.GetOrCreate(token)
	if err := sess.Launch(s.command[0], s.command[1:]...); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("session %s: websocket accept error: %s", token, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exited")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			msg, err := sess.AwaitResult(ctx)
			if err != nil {
				if errors.Is(err, ErrSessionTerminated) {
					s.log.Infof("session %s: interpreter terminated", token)
					conn.Close(websocket.StatusGoingAway, "interpreter terminated")
				}
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				s.log.Debugf("session %s: websocket write error: %s", token, err)
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				s.log.Debugf("session %s: websocket read error: %s", token, err)
			}
			break
		}
		if err := sess.SubmitInput(data); err != nil {
			// Protocol violation or dead interpreter; never retried.
			s.log.Warnf("session %s: dropping input: %s", token, err)
		}
	}

	s.registry.Remove(token)
	sess.Close()
	s.log.Infof("session %s has disconnected", token)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Write(b)
}
