package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
	"github.com/kandev/mcphost/internal/common/tracing"
)

var (
	ErrMissingLocation = errors.New("redirect without Location header")
	ErrTooManyRedirect = errors.New("more than one redirect")
	ErrUnexpectedCode  = errors.New("unexpected status")
)

// Provisioner makes sure the agent executable exists on disk.
type Provisioner struct {
	client *http.Client
	goos   string
	goarch string
	logger *logger.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithHTTPClient sets the client used for downloads. Its redirect policy is
// replaced; redirects are followed by the provisioner itself.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) { p.client = c }
}

// WithPlatform overrides the platform the asset is chosen for.
func WithPlatform(goos, goarch string) Option {
	return func(p *Provisioner) {
		p.goos = goos
		p.goarch = goarch
	}
}

// NewProvisioner creates a Provisioner for the running platform.
func NewProvisioner(log *logger.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		client: http.DefaultClient,
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
		logger: log.WithComponent("provisioner"),
	}
	for _, opt := range opts {
		opt(p)
	}

	c := *p.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	p.client = &c
	return p
}

// Descriptor returns the release asset the provisioner would install.
func (p *Provisioner) Descriptor(agent config.AgentConfig, storage config.StorageConfig) Descriptor {
	return ResolveDescriptor(agent, storage.BinDir(), p.goos, p.goarch)
}

// Ensure returns the executable path, downloading the binary first when no
// file exists there. An existing file is used as is.
func (p *Provisioner) Ensure(ctx context.Context, agent config.AgentConfig, storage config.StorageConfig) (path string, err error) {
	desc := p.Descriptor(agent, storage)
	ctx, span := tracing.TraceProvision(ctx, desc.InstallPath)
	defer func() { tracing.End(span, err) }()

	if info, statErr := os.Stat(desc.InstallPath); statErr == nil && !info.IsDir() {
		return desc.InstallPath, nil
	}

	p.logger.Info("agent binary not found, downloading",
		zap.String("path", desc.InstallPath),
		zap.String("url", desc.DownloadURL),
		zap.String("version", desc.Version))

	if err := p.download(ctx, desc); err != nil {
		return "", err
	}
	return desc.InstallPath, nil
}

func (p *Provisioner) download(ctx context.Context, desc Descriptor) error {
	resp, err := p.get(ctx, desc.DownloadURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(desc.InstallPath), 0o755); err != nil {
		return &ProvisionError{URL: desc.DownloadURL, Err: fmt.Errorf("create directory: %w", err)}
	}

	n, err := writeAtomic(resp.Body, desc.InstallPath, p.goos)
	if err != nil {
		return &ProvisionError{URL: desc.DownloadURL, Err: err}
	}

	p.logger.Info("agent binary installed",
		zap.String("path", desc.InstallPath),
		zap.Int64("bytes", n))
	return nil
}

// get fetches rawURL, following at most one 301/302 redirect. Any response
// it returns has a 2xx status.
func (p *Provisioner) get(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := p.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
		_ = resp.Body.Close()
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, &ProvisionError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrMissingLocation}
		}
		next, err := resp.Request.URL.Parse(loc)
		if err != nil {
			return nil, &ProvisionError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad Location %q: %w", loc, err)}
		}

		p.logger.Debug("following redirect", zap.String("location", next.String()))
		resp, err = p.do(ctx, next.String())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			_ = resp.Body.Close()
			return nil, &ProvisionError{URL: next.String(), StatusCode: resp.StatusCode, Err: ErrTooManyRedirect}
		}
		rawURL = next.String()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &ProvisionError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrUnexpectedCode}
	}
	return resp, nil
}

func (p *Provisioner) do(ctx context.Context, rawURL string) (*http.Response, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, &ProvisionError{URL: rawURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ProvisionError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProvisionError{URL: rawURL, Err: err}
	}
	return resp, nil
}

// writeAtomic streams body into a temp file beside path and renames it into
// place. Nothing is left at path or beside it on failure.
func writeAtomic(body io.Reader, path, goos string) (int64, error) {
	tmp := path + ".download"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("write binary: %w", err)
	}

	if NormalizePlatform(goos) != "windows" {
		if err := os.Chmod(tmp, 0o755); err != nil {
			_ = os.Remove(tmp)
			return n, fmt.Errorf("chmod: %w", err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("install binary: %w", err)
	}
	return n, nil
}
