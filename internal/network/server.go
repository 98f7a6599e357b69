// Package network implements the TCP line protocol server: a caller
// supplies a bind address, port, and a transaction.Manager, and Server
// accepts connections, each handled on its own goroutine, all sharing the
// same open files and in-memory directory via the Manager. See spec.md
// §4.5, §5.
package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"bkidx/internal/logger"
	"bkidx/internal/protocol"
	"bkidx/internal/record"
	"bkidx/internal/transaction"
)

// Backlog documents the listen backlog spec.md §4.5 requires (64); Go's
// net package does not expose a per-listener backlog knob, so operators
// wanting a non-default kernel backlog tune net.core.somaxconn.
const Backlog = 64

// Server is the line-protocol TCP dispatcher.
type Server struct {
	BindIP string
	Port   int
	Tx     *transaction.Manager
}

// New constructs a Server bound to bindIP:port, dispatching against tx.
func New(bindIP string, port int, tx *transaction.Manager) *Server {
	return &Server{BindIP: bindIP, Port: port, Tx: tx}
}

// listenConfig sets SO_REUSEADDR on the listening socket explicitly via
// golang.org/x/sys/unix, since plain net.Listen does not guarantee it on
// every platform and spec.md §4.5 requires it.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// Run listens and serves until ctx is canceled (e.g. by SIGINT), at which
// point the accept loop stops; in-flight connection handlers are allowed
// to finish their current request and terminate naturally when their
// client disconnects (spec.md §5, "Cancellation").
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	defer ln.Close()
	return s.Serve(ctx, ln)
}

// Listen binds the configured address with SO_REUSEADDR set. Split out
// from Run so tests can bind an ephemeral port (Port == 0) and discover
// the real address via ln.Addr() before serving.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", s.BindIP, s.Port)
	ln, err := listenConfig.Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("network: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve runs the accept loop over an already-bound listener until ctx is
// canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.Info("network: listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			logger.Error("network: accept error: %v", err)
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, protocol.MaxLineLen)

	for {
		line, err := readCappedLine(reader)
		if err != nil {
			if err != io.EOF {
				logger.Error("network: read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		cmd := protocol.Parse(strings.TrimRight(line, "\r\n"))

		switch cmd.Verb {
		case protocol.VerbQuit:
			return

		case protocol.VerbGet:
			if !s.writeString(conn, s.handleGet(cmd.Arg)) {
				return
			}

		case protocol.VerbAdd:
			if !s.writeString(conn, s.handleAdd(cmd.Arg)) {
				return
			}

		default:
			if !s.writeString(conn, protocol.ErrUnknownVerb) {
				return
			}
		}
	}
}

func (s *Server) handleGet(arg string) string {
	id, errMsg, ok := protocol.ParseGetID(arg)
	if !ok {
		if errMsg == "missing id" {
			return protocol.ErrMissingID
		}
		return protocol.ErrBadID
	}

	line, result := s.Tx.Get(id)
	switch result {
	case transaction.GetNotFound:
		return protocol.ReplyNotFound
	case transaction.GetIOError:
		return protocol.ErrInternal
	default:
		return protocol.ReplyOKPrefix + "\n" + record.Format(line)
	}
}

func (s *Server) handleAdd(csvLine string) string {
	trimmed := strings.TrimLeft(csvLine, " ")
	id, ok := protocol.ParseAddLeadingID(trimmed)
	if !ok {
		return protocol.ErrBadCSVShape
	}

	switch s.Tx.Add(id, trimmed) {
	case transaction.AddDuplicate:
		return protocol.ErrDuplicateID
	case transaction.AddIndexReadError:
		return protocol.ErrIndexRead
	case transaction.AddIndexWriteError:
		return protocol.ErrIndexWrite
	default:
		return protocol.OKAdded
	}
}

func (s *Server) writeString(conn net.Conn, msg string) bool {
	if _, err := io.WriteString(conn, msg); err != nil {
		logger.Error("network: write to %s: %v", conn.RemoteAddr(), err)
		return false
	}
	return true
}

// readCappedLine reads one line up to protocol.MaxLineLen bytes
// (including the terminator); a longer request is truncated to the cap,
// per spec.md §6.3, and the remainder of the oversized line is discarded
// so the connection can resync on the next request.
func readCappedLine(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for b.Len() < protocol.MaxLineLen {
		chunk, err := r.ReadSlice('\n')
		b.Write(chunk)
		if err == nil {
			return b.String(), nil
		}
		if err != bufio.ErrBufferFull {
			return b.String(), err
		}
	}
	for {
		_, err := r.ReadSlice('\n')
		if err == nil {
			return b.String(), nil
		}
		if err != bufio.ErrBufferFull {
			return b.String(), err
		}
	}
}
