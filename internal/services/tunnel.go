package services

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/withkeystone/preview-deployer/internal/errors"
)

// tunnelURLPattern matches the transient public URL cloudflared prints when a
// quick tunnel comes up
var tunnelURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// ParseTunnelURL returns the first quick-tunnel URL found in s, or "" when absent
func ParseTunnelURL(s string) string {
	return tunnelURLPattern.FindString(s)
}

// TunnelService provisions quick tunnels by spawning cloudflared and scraping
// its output for the assigned public URL
type TunnelService struct {
	binary       string
	maxAttempts  int
	pollInterval time.Duration
}

func NewTunnelService() *TunnelService {
	return &TunnelService{
		binary:       "cloudflared",
		maxAttempts:  30,
		pollInterval: time.Second,
	}
}

// Tunnel is a running quick tunnel forwarding the public URL to a local port
type Tunnel struct {
	URL string

	cmd *exec.Cmd
}

// Close terminates the tunnel process. Safe to call on an already-dead tunnel.
func (t *Tunnel) Close() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// Open starts a quick tunnel to localURL and waits for cloudflared to print
// the assigned public URL. When the URL never appears the process is killed
// and ErrTunnelURLNotFound is returned.
func (s *TunnelService) Open(ctx context.Context, localURL string) (*Tunnel, error) {
	logger := zerolog.Ctx(ctx)

	var buf syncBuffer
	cmd := exec.CommandContext(ctx, s.binary, "tunnel", "--url", localURL, "--no-autoupdate")
	// cloudflared logs the assigned URL to stderr
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.binary, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug().Err(err).Msg("Tunnel process exited")
		}
	}()

	url, err := s.awaitURL(ctx, buf.String)
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, err
	}

	logger.Info().Str("url", url).Msg("Quick tunnel established")
	return &Tunnel{URL: url, cmd: cmd}, nil
}

// awaitURL polls the captured process output until a tunnel URL appears,
// up to maxAttempts with a fixed delay between attempts
func (s *TunnelService) awaitURL(ctx context.Context, output func() string) (string, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if url := ParseTunnelURL(output()); url != "" {
			return url, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	return "", fmt.Errorf("%w after %d attempts", errors.ErrTunnelURLNotFound, s.maxAttempts)
}

// syncBuffer is a byte buffer safe for concurrent writes from the process
// stdout and stderr pipes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
