package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/erkyrath/remote-if-demo/glkote"
)

var (
	// ErrTurnInFlight is returned when input is submitted before the
	// previous turn has resolved. The offending input is not written.
	ErrTurnInFlight = errors.New("turn already in flight")

	// ErrSessionTerminated is returned when the interpreter's output
	// stream has ended. The session is unusable afterward.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotLaunched is returned when input is submitted before the
	// interpreter subprocess has been launched.
	ErrNotLaunched = errors.New("interpreter not launched")
)

// Session binds one signed-in player to one interpreter subprocess. Inputs
// and outputs strictly alternate 1:1: a turn begins when SubmitInput writes
// one JSON document to the interpreter's stdin, and ends when AwaitResult
// delivers exactly one framed document from its stdout. RemGlk produces
// exactly one output per input, and carries no correlation ids, so framing
// order is submission order.
type Session struct {
	Token string

	log *zap.SugaredLogger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	awaiting bool
	reaping  bool
	closed   bool

	msgCh  chan []byte
	doneCh chan struct{}
	quitCh chan struct{}
}

// NewSession creates a session with no subprocess. The interpreter is
// launched lazily, on the first input.
func NewSession(log *zap.SugaredLogger, token string) *Session {
	return &Session{
		Token:  token,
		log:    log.Named("session"),
		msgCh:  make(chan []byte),
		doneCh: make(chan struct{}),
		quitCh: make(chan struct{}),
	}
}

// Launch starts the interpreter subprocess. Launching a session whose
// subprocess is already running is a no-op, never a double spawn.
func (s *Session) Launch(name string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting interpreter: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go s.readOutput(stdout)
	s.log.Infof("launched interpreter pid %d for session %s", cmd.Process.Pid, s.Token)
	return nil
}

// readOutput feeds the framer from the interpreter's stdout and delivers
// each complete message in FIFO order. End of the stream is terminal for
// the session.
func (s *Session) readOutput(stdout io.Reader) {
	defer close(s.doneCh)

	var framer glkote.Framer
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		framer.Feed(scanner.Bytes())
		for {
			msg, ok := framer.Next()
			if !ok {
				break
			}
			select {
			case s.msgCh <- msg:
			case <-s.quitCh:
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debugf("session %s: stdout read error: %s", s.Token, err)
	}
	s.cmd.Wait()
	s.log.Infof("session %s: interpreter output stream ended", s.Token)
}

// SubmitInput writes one turn's input to the interpreter, verbatim. It
// fails with ErrTurnInFlight if the previous turn has not resolved yet;
// the caller violated the turn discipline and the input is dropped.
func (s *Session) SubmitInput(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.cmd == nil {
		return ErrNotLaunched
	}
	if s.awaiting {
		return ErrTurnInFlight
	}
	if _, err := s.stdin.Write(p); err != nil {
		return fmt.Errorf("writing to interpreter: %w", err)
	}
	s.awaiting = true
	return nil
}

// AwaitResult suspends until the interpreter produces one complete JSON
// document, which ends the current turn. If the subprocess has terminated,
// the turn resolves with ErrSessionTerminated rather than hanging forever.
//
// A caller that gives up via ctx does not strand the turn: the reply the
// interpreter eventually produces is reaped in the background and the
// session accepts the next input.
func (s *Session) AwaitResult(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-s.msgCh:
		s.mu.Lock()
		s.awaiting = false
		s.mu.Unlock()
		return msg, nil
	case <-s.doneCh:
		return nil, ErrSessionTerminated
	case <-s.quitCh:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		s.mu.Lock()
		if s.awaiting && !s.reaping {
			s.reaping = true
			go s.reapAbandonedTurn()
		}
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// reapAbandonedTurn resolves a turn whose awaiter gave up before the
// interpreter replied. The reply is consumed and discarded so the session
// does not report ErrTurnInFlight forever.
func (s *Session) reapAbandonedTurn() {
	select {
	case <-s.msgCh:
		s.mu.Lock()
		s.awaiting = false
		s.reaping = false
		s.mu.Unlock()
		s.log.Debugf("session %s: discarded reply to an abandoned turn", s.Token)
	case <-s.doneCh:
	case <-s.quitCh:
	}
}

// Close ends the session. The interpreter's stdin is closed so it can exit
// on its own (it is not killed), and buffered output is discarded; no
// queued turn result is delivered after Close.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.quitCh)
	if s.stdin != nil {
		if err := s.stdin.Close(); err != nil {
			s.log.Debugf("session %s: closing stdin: %s", s.Token, err)
		}
	}
	s.log.Infof("session %s closed", s.Token)
}
