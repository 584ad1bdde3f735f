package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"

	gossh "github.com/gliderlabs/ssh"
	"go.uber.org/zap"
	xssh "golang.org/x/crypto/ssh"

	"tileworld/internal/metrics"
	"tileworld/internal/supervisor"
)

// SSHServer accepts interactive terminal clients. Each connection becomes
// one supervised session; the handler blocks for the lifetime of the
// connection, which is what keeps the SSH channel open.
type SSHServer struct {
	sup     *supervisor.Supervisor
	log     *zap.Logger
	metrics *metrics.Collector

	maxQueuedBytes int
	srv            *gossh.Server
}

// NewSSHServer wires the front-end. The host key is loaded from
// hostKeyPath or generated and persisted on first run.
func NewSSHServer(sup *supervisor.Supervisor, logger *zap.Logger, m *metrics.Collector, addr, hostKeyPath string, maxQueuedBytes int) (*SSHServer, error) {
	signer, err := loadOrCreateHostKey(hostKeyPath, logger)
	if err != nil {
		return nil, err
	}
	s := &SSHServer{
		sup:            sup,
		log:            logger,
		metrics:        m,
		maxQueuedBytes: maxQueuedBytes,
	}
	s.srv = &gossh.Server{
		Addr:    addr,
		Handler: s.handle,
		// Accept PTY requests from any client.
		PtyCallback: func(gossh.Context, gossh.Pty) bool { return true },
		// Any key is accepted; identity comes from the fingerprint, not
		// from an allow list.
		PublicKeyHandler: func(gossh.Context, gossh.PublicKey) bool { return true },
		HostSigners:      []gossh.Signer{signer},
	}
	return s, nil
}

// ListenAndServe blocks serving SSH connections.
func (s *SSHServer) ListenAndServe() error {
	s.log.Info("ssh server listening", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// Close stops accepting connections.
func (s *SSHServer) Close() error { return s.srv.Close() }

func (s *SSHServer) handle(sess gossh.Session) {
	pty, winCh, hasPTY := sess.Pty()
	if !hasPTY {
		fmt.Fprintln(sess, "A PTY is required. Connect with: ssh -t <host>")
		return
	}

	fingerprint := ""
	if key := sess.PublicKey(); key != nil {
		fingerprint = xssh.FingerprintSHA256(key)
	}

	pump := NewPump(sess, s.maxQueuedBytes)
	if s.metrics != nil {
		pump.OnWrite(s.metrics.RecordOutputBytes)
	}

	proxy, err := s.sup.Connect(supervisor.ConnectOpts{
		Username:    sess.User(),
		Fingerprint: fingerprint,
		Cols:        pty.Window.Width,
		Rows:        pty.Window.Height,
		Sink:        pump,
		OnClosed:    func() { _ = sess.Close() },
	})
	if err != nil {
		fmt.Fprintln(sess, "Server is shutting down.")
		pump.Destroy()
		return
	}
	defer proxy.Close()

	go func() {
		for win := range winCh {
			proxy.Resize(win.Width, win.Height)
		}
	}()

	buf := make([]byte, 256)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			proxy.Input(data)
		}
		if err != nil {
			return
		}
	}
}

// loadOrCreateHostKey loads a PEM private key from path, or generates and
// persists a new ed25519 key when the file is absent or unreadable.
func loadOrCreateHostKey(path string, logger *zap.Logger) (gossh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		if signer, err := xssh.ParsePrivateKey(data); err == nil {
			logger.Info("loaded host key", zap.String("path", path))
			return signer, nil
		}
	}

	logger.Info("generating new ed25519 host key", zap.String("path", path))
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generate host key: %w", err)
	}
	signer, err := xssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("transport: create signer: %w", err)
	}
	// Persist for next run (non-fatal if it fails).
	if pemBlock, err := xssh.MarshalPrivateKey(key, "tileworld server"); err == nil {
		_ = os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0o600)
	}
	return signer, nil
}
