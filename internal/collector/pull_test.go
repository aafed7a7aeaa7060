package collector

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHKeyFile creates a temporary Ed25519 SSH key file for tests and returns
// its path and public key.
func testSSHKeyFile(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privPEM, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(privPEM), 0o600))

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return keyPath, signer.PublicKey()
}

type testSSHServer struct {
	addr     string
	port     int
	hostKey  ssh.PublicKey
	commands chan string
}

// startSSHServer runs an SSH server on loopback that answers every exec
// request with output and exitStatus.
func startSSHServer(t *testing.T, authorized ssh.PublicKey, output string, exitStatus uint32) *testSSHServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &testSSHServer{
		addr:     ln.Addr().String(),
		port:     ln.Addr().(*net.TCPAddr).Port,
		hostKey:  hostSigner.PublicKey(),
		commands: make(chan string, 16),
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(conn, cfg, output, exitStatus)
		}
	}()
	return srv
}

func (s *testSSHServer) serve(conn net.Conn, cfg *ssh.ServerConfig, output string, exitStatus uint32) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				ssh.Unmarshal(req.Payload, &payload) //nolint:errcheck // test server
				req.Reply(true, nil)
				s.commands <- payload.Command
				ch.Write([]byte(output)) //nolint:errcheck // test server
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{exitStatus})) //nolint:errcheck // test server
				return
			}
		}()
	}
}

func reportFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func newTestPull(t *testing.T, srv *testSSHServer, keyPath, dropDir string) *PullCollector {
	t.Helper()
	pc, err := NewPullCollector(PullConfig{
		Name:    "nas-01",
		Host:    "127.0.0.1",
		Port:    srv.port,
		User:    "diskmon",
		KeyPath: keyPath,
		Command: "diskmon-report --json",
	}, dropDir, NewWorkerPool(2))
	require.NoError(t, err)
	return pc
}

func TestNewPullCollector_Defaults(t *testing.T) {
	keyPath, _ := testSSHKeyFile(t)
	pc, err := NewPullCollector(PullConfig{Name: "nas", Host: "10.0.0.5", User: "root", KeyPath: keyPath}, t.TempDir(), NewWorkerPool(1))
	require.NoError(t, err)

	assert.Equal(t, "pull:nas", pc.Name())
	assert.Equal(t, 5*time.Minute, pc.Interval())
	assert.Equal(t, 22, pc.cfg.Port)
}

func TestNewPullCollector_BadKeyPath(t *testing.T) {
	_, err := NewPullCollector(PullConfig{KeyPath: "/nonexistent/key"}, t.TempDir(), NewWorkerPool(1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading SSH key")
}

func TestNewPullCollector_InvalidKey(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "bad_key")
	require.NoError(t, os.WriteFile(tmpFile, []byte("not a valid key"), 0o600))

	_, err := NewPullCollector(PullConfig{KeyPath: tmpFile}, t.TempDir(), NewWorkerPool(1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parsing SSH key")
}

func TestNewPullCollector_MissingKnownHosts(t *testing.T) {
	keyPath, _ := testSSHKeyFile(t)
	_, err := NewPullCollector(PullConfig{KeyPath: keyPath, KnownHostsPath: "/nonexistent/known_hosts"}, t.TempDir(), NewWorkerPool(1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts")
}

func TestPullCollect_DeliversEachLine(t *testing.T) {
	keyPath, pub := testSSHKeyFile(t)
	output := `{"machine_id":"nas-01","type":"disk","device":"sda","smart_data":{"temp":38}}
not json at all

{"machine_id":"nas-01","type":"system_info","info":{"os":"truenas"}}
`
	srv := startSSHServer(t, pub, output, 0)
	dropDir := t.TempDir()
	pc := newTestPull(t, srv, keyPath, dropDir)

	require.NoError(t, pc.Collect(context.Background()))
	assert.Equal(t, "diskmon-report --json", <-srv.commands)

	files := reportFiles(t, dropDir)
	require.Len(t, files, 2)
	assert.Regexp(t, `^\d+-nas-01-000001\.json$`, files[0])
	assert.Regexp(t, `^\d+-nas-01-000002\.json$`, files[1])

	first, err := os.ReadFile(filepath.Join(dropDir, files[0]))
	require.NoError(t, err)
	assert.JSONEq(t, `{"machine_id":"nas-01","type":"disk","device":"sda","smart_data":{"temp":38}}`, string(first))
}

func TestPullCollect_NonZeroExit(t *testing.T) {
	keyPath, pub := testSSHKeyFile(t)
	srv := startSSHServer(t, pub, `{"machine_id":"x"}`+"\n", 1)
	dropDir := t.TempDir()
	pc := newTestPull(t, srv, keyPath, dropDir)

	err := pc.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running")
	assert.Empty(t, reportFiles(t, dropDir))
}

func TestPullCollect_UnauthorizedKey(t *testing.T) {
	keyPath, _ := testSSHKeyFile(t)
	_, otherPub := testSSHKeyFile(t)
	srv := startSSHServer(t, otherPub, "", 0)
	pc := newTestPull(t, srv, keyPath, t.TempDir())

	err := pc.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH handshake")
}

func TestPullCollect_KnownHosts(t *testing.T) {
	keyPath, pub := testSSHKeyFile(t)
	srv := startSSHServer(t, pub, `{"machine_id":"nas-01","type":"heartbeat"}`+"\n", 0)

	khPath := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey)
	require.NoError(t, os.WriteFile(khPath, []byte(line+"\n"), 0o600))

	dropDir := t.TempDir()
	pc, err := NewPullCollector(PullConfig{
		Name: "nas-01", Host: "127.0.0.1", Port: srv.port, User: "diskmon",
		KeyPath: keyPath, KnownHostsPath: khPath, Command: "report",
	}, dropDir, NewWorkerPool(1))
	require.NoError(t, err)

	require.NoError(t, pc.Collect(context.Background()))
	assert.Len(t, reportFiles(t, dropDir), 1)
}

func TestPullCollect_KnownHostsMismatch(t *testing.T) {
	keyPath, pub := testSSHKeyFile(t)
	srv := startSSHServer(t, pub, "", 0)
	_, wrongHostKey := testSSHKeyFile(t)

	khPath := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, wrongHostKey)
	require.NoError(t, os.WriteFile(khPath, []byte(line+"\n"), 0o600))

	pc, err := NewPullCollector(PullConfig{
		Name: "nas-01", Host: "127.0.0.1", Port: srv.port, User: "diskmon",
		KeyPath: keyPath, KnownHostsPath: khPath, Command: "report",
	}, t.TempDir(), NewWorkerPool(1))
	require.NoError(t, err)

	assert.Error(t, pc.Collect(context.Background()))
}

func TestPullCollect_ConnectionFailure(t *testing.T) {
	keyPath, _ := testSSHKeyFile(t)

	// Grab a free port and release it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	pc, err := NewPullCollector(PullConfig{Name: "gone", Host: "127.0.0.1", Port: port, KeyPath: keyPath}, t.TempDir(), NewWorkerPool(1))
	require.NoError(t, err)

	err = pc.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to 127.0.0.1:"+strconv.Itoa(port))
}

func TestPullCollect_CancelledWhilePoolFull(t *testing.T) {
	keyPath, _ := testSSHKeyFile(t)
	pool := NewWorkerPool(1)
	pc, err := NewPullCollector(PullConfig{Name: "nas", Host: "127.0.0.1", KeyPath: keyPath}, t.TempDir(), pool)
	require.NoError(t, err)

	blocker := make(chan struct{})
	defer close(blocker)
	require.NoError(t, pool.Submit(context.Background(), func() { <-blocker }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pc.Collect(ctx), context.DeadlineExceeded)
}

func TestDeliver_OutputTooLarge(t *testing.T) {
	w := &limitedWriter{w: &bytes.Buffer{}, n: 4}
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = w.Write([]byte("de"))
	assert.Error(t, err)
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"nas-01":        "nas-01",
		"rack/1 node.a": "rack_1_node_a",
		"":              "host",
		"ünï":           "_n_",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeName(in), in)
	}
}
