// Package daemon is the reference worker: it serves the line protocol on a
// loopback port and runs each payload through an Executor.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/workspace"
)

// requestReadTimeout bounds how long a connection may take to deliver its
// request.
const requestReadTimeout = 30 * time.Second

// Executor runs one payload, emitting output lines in order.
type Executor interface {
	Execute(ctx context.Context, script string, emit func(line string)) error
}

// Server serves one workspace.
type Server struct {
	ws       *workspace.Workspace
	port     int
	exec     Executor
	logger   *logging.Logger
	listener net.Listener

	// run serializes payload execution; probes are answered concurrently.
	run sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	conns    sync.WaitGroup
}

// New creates a server for ws. port 0 picks a free port.
func New(ws *workspace.Workspace, port int, exec Executor, logger *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ws:     ws,
		port:   port,
		exec:   exec,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Listen binds the loopback port and records it in the port file.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	if err := s.ws.WritePort(s.port); err != nil {
		listener.Close()
		return fmt.Errorf("write port file: %w", err)
	}
	s.logger.Infof("worker listening on %s for %s", listener.Addr(), s.ws.Dir)
	return nil
}

// Port returns the bound port once Listen has succeeded.
func (s *Server) Port() int {
	return s.port
}

// Done is closed when the server has stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Serve accepts connections until Stop. It returns nil on a requested stop.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("serve before listen")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.conns.Wait()
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.Stop()
			return fmt.Errorf("accept: %w", err)
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

// Start listens and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener, cancels a running payload and removes the port
// file. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("worker stopping")
		close(s.done)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.ws.RemovePort()
	})
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	lines, err := protocol.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Debugf("read request from %s: %v", conn.RemoteAddr(), err)
		}
		return
	}
	conn.SetReadDeadline(time.Time{})

	payload := strings.Join(lines, "\n")
	switch strings.TrimSpace(payload) {
	case protocol.CmdPing:
		protocol.WriteResponse(conn, []string{protocol.PingAck}, true)
	case protocol.CmdQuit:
		s.logger.Info("quit requested")
		protocol.WriteResponse(conn, nil, true)
		s.Stop()
	default:
		s.handleScript(conn, payload)
	}
}

func (s *Server) handleScript(conn net.Conn, payload string) {
	s.run.Lock()
	defer s.run.Unlock()

	w := &lineWriter{conn: conn}
	started := time.Now()
	err := s.exec.Execute(s.ctx, payload, w.emit)
	if w.err != nil {
		s.logger.Errorf("client %s went away: %v", conn.RemoteAddr(), w.err)
		return
	}

	if err != nil {
		s.logger.Infof("payload failed after %s: %v", time.Since(started).Round(time.Millisecond), err)
		var msg []string
		for _, line := range protocol.PayloadLines(err.Error()) {
			msg = append(msg, escapeLine(line))
		}
		protocol.WriteResponse(conn, msg, false)
		return
	}
	s.logger.Debugf("payload done in %s (%d lines)", time.Since(started).Round(time.Millisecond), w.lines)
	protocol.WriteResponse(conn, nil, true)
}

// lineWriter streams output lines to the client, remembering the first write
// failure so the remaining output is dropped.
type lineWriter struct {
	conn  net.Conn
	err   error
	lines int
}

func (w *lineWriter) emit(line string) {
	if w.err != nil {
		return
	}
	w.lines++
	_, w.err = io.WriteString(w.conn, escapeLine(line)+"\n")
}

// escapeLine indents output that would otherwise read as an envelope
// sentinel.
func escapeLine(line string) string {
	if protocol.IsSentinel(line) {
		return " " + line
	}
	return line
}
