// Package ingress implements the local stream-socket server that collectors
// talk to: it accepts line-delimited JSON frames, validates and dispatches
// them to a single owned session writer in strict arrival order, and
// acknowledges each frame.
package ingress

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/duskwatch/evidence/internal/assert"
	"github.com/duskwatch/evidence/internal/bundle"
	"github.com/duskwatch/evidence/internal/logging"
)

// Server owns exactly one bundle.Writer for its entire lifetime and
// serializes every message applied to it, regardless of which connection it
// arrived on.
type Server struct {
	addr     string
	writer   *bundle.Writer
	writerMu sync.Mutex
	log      logging.Session

	listener net.Listener
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a server that will listen on addr (bound by Serve) and
// dispatch accepted messages into writer.
func New(addr string, writer *bundle.Writer) (*Server, error) {
	if err := assert.Check(addr != "", "addr must not be empty"); err != nil {
		return nil, err
	}
	if err := assert.Check(writer != nil, "writer must not be nil"); err != nil {
		return nil, err
	}
	return &Server{
		addr:   addr,
		writer: writer,
		log:    logging.ForBundle(writer.BundleDir()),
		done:   make(chan struct{}),
	}, nil
}

// Serve binds addr and accepts connections until a "stop" frame is
// processed on any connection, or the listener is closed. It returns nil on
// a clean stop.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding ingress socket: %w", err)
	}
	s.listener = ln
	return s.serveOn(ln)
}

// serveOn runs the accept loop against an already-bound listener, split out
// from Serve so tests can bind an ephemeral port and hand it in directly.
func (s *Server) serveOn(ln net.Listener) error {
	s.log.Info("ingress server listening", logging.Fields{Component: "ingress", Method: s.addr})

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				wg.Wait()
				return nil
			default:
				return fmt.Errorf("accepting connection: %w", err)
			}
		}

		connID := uuid.New().String()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn, connID)
		}()
	}
}

// Stop closes the listener, causing Serve to return after in-flight
// connections finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

func (s *Server) handleConn(conn net.Conn, connID string) {
	defer conn.Close()
	sess := s.log.WithRequest(connID)

	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}
		lineCopy := append([]byte(nil), line...)

		stop, err := s.dispatch(lineCopy, sess)
		if err != nil {
			sess.Warn("ingress frame rejected", logging.Fields{Component: "ingress", Error: err.Error()})
			fmt.Fprintf(conn, "FAIL: %s\n", err.Error())
			return
		}
		fmt.Fprint(conn, "OK\n")
		if stop {
			s.Stop()
			return
		}
	}
	if err := reader.Err(); err != nil {
		sess.Warn("ingress connection read error", logging.Fields{Component: "ingress", Error: err.Error()})
	}
}

// dispatch applies one parsed message to the owned writer under the
// serializing lock and reports whether the server should now stop.
func (s *Server) dispatch(line []byte, sess logging.Session) (stop bool, err error) {
	msg, err := Parse(line)
	if err != nil {
		return false, err
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	switch m := msg.(type) {
	case Stop:
		if _, err := s.writer.StopSession(m.Reason); err != nil {
			return false, err
		}
		sess.Info("session sealed", logging.Fields{Component: "ingress", Method: "stop"})
		return true, nil

	case FileAdded:
		rel, err := s.writer.CopyAttachment(m.SourcePath, m.RelPath)
		if err != nil {
			return false, err
		}
		if _, err := s.writer.AppendEvent("file_added", map[string]interface{}{"rel_path": rel, "kind": m.Kind}); err != nil {
			return false, err
		}
		return false, nil

	case ShotSaved:
		rel, err := s.writer.CopyAttachment(m.SourcePath, m.RelPath)
		if err != nil {
			return false, err
		}
		if _, err := s.writer.AppendEvent("shot_saved", map[string]interface{}{"rel_path": rel}); err != nil {
			return false, err
		}
		return false, nil

	case Other:
		if _, err := s.writer.AppendEvent(m.Type, m.Payload); err != nil {
			return false, err
		}
		return false, nil

	default:
		return false, fmt.Errorf("unhandled message kind %T", msg)
	}
}
