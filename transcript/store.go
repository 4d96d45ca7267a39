package transcript

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erkyrath/remote-if-demo/glkote"
)

// ErrGameNotFound is returned when a subscription names a session id no
// recorded game has used.
var ErrGameNotFound = errors.New("no such game")

// Sender delivers one viewer message. Each connection's messages are sent
// from a single goroutine, in order.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// Store is the process-wide registry of recorded games and their viewer
// connections. Updates for a game are applied strictly in arrival order,
// and fan-out to viewers is independent per connection: every connection
// owns an unbounded ordered outbox drained by its own goroutine, so one
// slow viewer never starves the publisher or its neighbors. There is no
// backpressure policy; a viewer that stops reading accumulates queued
// messages until it disconnects.
type Store struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	games map[string]*Game
	conns map[string]*conn
}

func NewStore(log *zap.SugaredLogger) *Store {
	return &Store{
		log:   log.Named("store"),
		games: make(map[string]*Game),
		conns: make(map[string]*conn),
	}
}

// Publish folds one recorder update into its game, creating the game the
// first time its session id is seen, and fans the input-stripped output
// view out to every viewer of that game.
func (s *Store) Publish(u *glkote.Update) {
	view := u.Output.View()

	s.mu.Lock()
	defer s.mu.Unlock()

	game, ok := s.games[u.SessionID]
	if !ok {
		game = NewGame(u.SessionID, u.Label, u.Timestamp)
		s.games[u.SessionID] = game
		s.log.Infof("created game %s (%q)", game.ID, game.Label)
	}
	game.Apply(u.Output)

	for _, c := range s.conns {
		if c.gameID == game.ID {
			c.enqueue(view)
		}
	}
}

// Subscribe registers a viewer for the given game and starts the goroutine
// that drains its outbox into sender. If the game has received a window
// catalog, a snapshot is queued first, so the viewer sees the current
// state before any live update. The returned connection id is unique for
// the process lifetime.
func (s *Store) Subscribe(ctx context.Context, gameID string, sender Sender) (string, error) {
	s.mu.Lock()
	game, ok := s.games[gameID]
	if !ok {
		s.mu.Unlock()
		return "", ErrGameNotFound
	}
	c := &conn{
		id:     uuid.NewString(),
		gameID: gameID,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if len(game.Windows) > 0 {
		c.enqueue(game.Snapshot())
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	go s.drain(ctx, c, sender)
	s.log.Infof("viewer %s subscribed to game %s", c.id, gameID)
	return c.id, nil
}

// Unsubscribe drops the connection and discards anything still queued.
// The game is unaffected.
func (s *Store) Unsubscribe(connID string) {
	s.mu.Lock()
	c, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	s.log.Infof("viewer %s unsubscribed", connID)
}

// Has reports whether a game exists for the session id.
func (s *Store) Has(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.games[gameID]
	return ok
}

// Games returns all games ordered by launch time.
func (s *Store) Games() []*Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := make([]*Game, 0, len(s.games))
	for _, g := range s.games {
		ls = append(ls, g)
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].Launched < ls[j].Launched })
	return ls
}

// drain ships queued messages to the sender until the connection is
// unsubscribed, the context ends, or a send fails.
func (s *Store) drain(ctx context.Context, c *conn, sender Sender) {
	for {
		for {
			v, ok := c.next()
			if !ok {
				break
			}
			if err := sender.Send(ctx, v); err != nil {
				s.log.Debugf("viewer %s: send error: %s", c.id, err)
				s.Unsubscribe(c.id)
				return
			}
		}
		select {
		case <-c.wake:
		case <-c.done:
			return
		case <-ctx.Done():
			s.Unsubscribe(c.id)
			return
		}
	}
}

// conn is one subscribed viewer.
type conn struct {
	id     string
	gameID string

	mu     sync.Mutex
	queue  []any
	closed bool

	wake chan struct{}
	done chan struct{}
}

func (c *conn) enqueue(v any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, v)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *conn) next() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	v := c.queue[0]
	c.queue = c.queue[1:]
	return v, true
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
}
