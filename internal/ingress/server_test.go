package ingress

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskwatch/evidence/internal/bundle"
	"github.com/duskwatch/evidence/internal/verify"
)

func startTestServer(t *testing.T) (addr string, bundleDir string) {
	t.Helper()
	dir := t.TempDir()

	w, err := bundle.StartSession(dir, "linux", "1.0.0")
	require.NoError(t, err)

	srv, err := New("127.0.0.1:0", w)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln
	addr = ln.Addr().String()

	go func() {
		_ = srv.serveOn(ln)
	}()

	return addr, w.BundleDir()
}

func sendLine(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	_, err := fmt.Fprintf(conn, "%s\n", line)
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	resp, err := reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSpace(resp)
}

func TestServerEmptySessionScenario(t *testing.T) {
	addr, bundleDir := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := sendLine(t, conn, `{"type":"stop","payload":{"reason":"user"}}`)
	require.Equal(t, "OK", resp)

	time.Sleep(50 * time.Millisecond)

	result, err := verify.Bundle(bundleDir)
	require.NoError(t, err)
	require.True(t, result.Valid, result.Reason)
	require.Equal(t, 2, result.EventCount)
}

func TestServerFileAttachmentScenario(t *testing.T) {
	addr, bundleDir := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	srcPath := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte{0x00, 0x01, 0x02}, 0o644))

	msg := fmt.Sprintf(`{"type":"file_added","payload":{"source_path":%q,"rel_path":"files/a.bin","kind":"screen_recording"}}`, srcPath)
	resp := sendLine(t, conn, msg)
	require.Equal(t, "OK", resp)

	resp = sendLine(t, conn, `{"type":"stop","payload":{"reason":"user"}}`)
	require.Equal(t, "OK", resp)

	time.Sleep(50 * time.Millisecond)

	result, err := verify.Bundle(bundleDir)
	require.NoError(t, err)
	require.True(t, result.Valid, result.Reason)

	data, err := os.ReadFile(filepath.Join(bundleDir, "files", "a.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x01, 0x02}, data)
}

func TestServerUnsafeRelPathFailsWithoutAppendingEvent(t *testing.T) {
	addr, bundleDir := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	srcPath := filepath.Join(t.TempDir(), "x.png")
	require.NoError(t, os.WriteFile(srcPath, []byte("x"), 0o644))

	msg := fmt.Sprintf(`{"type":"shot_saved","payload":{"source_path":%q,"rel_path":"../escape.png"}}`, srcPath)
	resp := sendLine(t, conn, msg)
	require.True(t, strings.HasPrefix(resp, "FAIL:"), resp)
	require.Contains(t, resp, "rel_path")

	data, err := os.ReadFile(filepath.Join(bundleDir, "events.jsonl"))
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "\n")) // only session_started
}
