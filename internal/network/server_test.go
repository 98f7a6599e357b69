package network

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bkidx/internal/builder"
	"bkidx/internal/csvstore"
	"bkidx/internal/engine"
	"bkidx/internal/transaction"
)

func startTestServer(t *testing.T, csv string) (addr string, stop func()) {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	idxPath := filepath.Join(dir, "books.idx")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	_, err := builder.Build(csvPath, idxPath)
	require.NoError(t, err)

	idx, err := engine.Open(idxPath)
	require.NoError(t, err)
	store, err := csvstore.Open(csvPath)
	require.NoError(t, err)

	tx := transaction.New(idx, store)
	srv := New("127.0.0.1", 0, tx)

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := srv.Listen(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()

	return ln.Addr().String(), func() {
		cancel()
		<-done
		tx.Close()
	}
}

func TestScenarioGetAfterBuild(t *testing.T) {
	addr, stop := startTestServer(t, "id,title\n1,a\n1001,b\n2001,c\n")
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET 1\n"))
	require.NoError(t, err)

	reply := readReply(t, conn)
	require.Contains(t, reply, "OK\nID: 1\n")
}

func TestScenarioGetNotFound(t *testing.T) {
	addr, stop := startTestServer(t, "id,title\n1,a\n")
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET 99999999\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "NOTFOUND\n", line)
}

func TestScenarioAddThenDuplicate(t *testing.T) {
	addr, stop := startTestServer(t, "id,title\n")
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("ADD 5107,total:2610840,5:891037\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OK Registro agregado correctamente\n", line)

	_, err = conn.Write([]byte("ADD 5107,total:2610840,5:891037\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ERR ID duplicado\n", line)
}

func TestScenarioUnknownVerb(t *testing.T) {
	addr, stop := startTestServer(t, "id,title\n1,a\n")
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("FOO 1\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "ERR expected:")
}

func TestScenarioQuitClosesConnection(t *testing.T) {
	addr, stop := startTestServer(t, "id,title\n1,a\n")
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("QUIT\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err) // EOF: server closed without replying
}

func readReply(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}
