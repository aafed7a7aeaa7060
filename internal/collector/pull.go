package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/persist"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// PullConfig describes one host whose reports are fetched over SSH.
type PullConfig struct {
	Name           string
	Host           string
	Port           int
	User           string
	KeyPath        string
	KnownHostsPath string
	Command        string
	Interval       time.Duration
}

// PullCollector runs a command on a remote host and drops every line of its
// output into the inbox as one report file.
type PullCollector struct {
	cfg      PullConfig
	dropDir  string
	pool     *WorkerPool
	sshCfg   *ssh.ClientConfig
	now      func() time.Time
	seq      atomic.Uint64
	maxBytes int64
}

// NewPullCollector creates a pull collector. The SSH key (and known_hosts
// file, if any) is parsed once at startup rather than on every poll.
func NewPullCollector(cfg PullConfig, dropDir string, pool *WorkerPool) (*PullCollector, error) {
	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading SSH key %s: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing SSH key %s: %w", cfg.KeyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in verification via known_hosts
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts %s: %w", cfg.KnownHostsPath, err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	return &PullCollector{
		cfg:     cfg,
		dropDir: dropDir,
		pool:    pool,
		sshCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         10 * time.Second,
		},
		now:      time.Now,
		maxBytes: 16 << 20,
	}, nil
}

func (p *PullCollector) Name() string            { return "pull:" + p.cfg.Name }
func (p *PullCollector) Interval() time.Duration { return p.cfg.Interval }

// Collect runs the remote command in the worker pool and waits for it.
func (p *PullCollector) Collect(ctx context.Context) error {
	done := make(chan error, 1)
	if err := p.pool.Submit(ctx, func() { done <- p.pull(ctx) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PullCollector) pull(ctx context.Context) error {
	out, err := p.run(ctx)
	if err != nil {
		return err
	}
	n, err := p.deliver(out)
	if err != nil {
		return err
	}
	slog.Debug("pulled reports", "host", p.cfg.Name, "reports", n)
	return nil
}

func (p *PullCollector) run(ctx context.Context) ([]byte, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, p.sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	// Closing the client unblocks session.Run on cancellation.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &limitedWriter{w: &stdout, n: p.maxBytes}

	if err := session.Run(p.cfg.Command); err != nil {
		return nil, fmt.Errorf("running %q on %s: %w", p.cfg.Command, addr, err)
	}
	return stdout.Bytes(), nil
}

// deliver writes each JSON line of out into the drop directory. File names
// start with the current time in nanoseconds so the inbox merges them in
// arrival order.
func (p *PullCollector) deliver(out []byte) (int, error) {
	name := safeName(p.cfg.Name)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64<<10), int(p.maxBytes))

	n := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			slog.Warn("skipping non-JSON output line", "host", p.cfg.Name, "bytes", len(line))
			continue
		}
		file := fmt.Sprintf("%d-%s-%06d.json", p.now().UnixNano(), name, p.seq.Add(1))
		if err := persist.WriteFileAtomic(filepath.Join(p.dropDir, file), line, 0o644); err != nil {
			return n, fmt.Errorf("delivering report from %s: %w", p.cfg.Name, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("reading output from %s: %w", p.cfg.Name, err)
	}
	return n, nil
}

// safeName keeps letters, digits, dash and underscore.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "host"
	}
	return s
}

// limitedWriter fails once more than n bytes have been written.
type limitedWriter struct {
	w *bytes.Buffer
	n int64
}

func (l *limitedWriter) Write(b []byte) (int, error) {
	if int64(l.w.Len()+len(b)) > l.n {
		return 0, fmt.Errorf("command output exceeds %d bytes", l.n)
	}
	return l.w.Write(b)
}
