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
	"bkidx/internal/snapshot"
)

// AdminServer is a second, operator-only line-protocol listener separate
// from the client-facing Server: it understands a single verb, "ADMIN
// SNAPSHOT <name>", and is never reachable on the GET/ADD port. See
// SPEC_FULL.md, "Snapshot/restore".
type AdminServer struct {
	BindIP string
	Port   int

	snap func(name string) (snapshot.Manifest, error)
}

// NewAdminServer constructs an AdminServer bound to bindIP:port, invoking
// snap to produce each requested snapshot.
func NewAdminServer(bindIP string, port int, snap func(name string) (snapshot.Manifest, error)) *AdminServer {
	return &AdminServer{BindIP: bindIP, Port: port, snap: snap}
}

var adminListenConfig = net.ListenConfig{
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

// Run listens and serves admin connections until ctx is canceled.
func (a *AdminServer) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.BindIP, a.Port)
	ln, err := adminListenConfig.Listen(ctx, "tcp4", addr)
	if err != nil {
		return fmt.Errorf("network: admin listen %s: %w", addr, err)
	}
	defer ln.Close()

	logger.Info("network: admin listening on %s", ln.Addr())

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
			logger.Error("network: admin accept error: %v", err)
			continue
		}
		go a.handleConnection(conn)
	}
}

func (a *AdminServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 256)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "ADMIN") || !strings.EqualFold(fields[1], "SNAPSHOT") {
		io.WriteString(conn, "ERR expected: ADMIN SNAPSHOT <name>\n")
		return
	}

	manifest, err := a.snap(fields[2])
	if err != nil {
		logger.Error("network: admin snapshot %q: %v", fields[2], err)
		io.WriteString(conn, "ERR snapshot failed\n")
		return
	}
	fmt.Fprintf(conn, "OK %s entries=%d index=%s csv=%s\n",
		manifest.Name, manifest.TotalEntries, manifest.IndexDigest, manifest.CSVDigest)
}
