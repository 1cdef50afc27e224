// Package cloner fetches a build's browser distribution and test bundle
// from the upstream FTP/HTTPS server into the downloads root, laid out so
// client workers can fetch their platform's pair over plain HTTPS. See
// spec §4.5; grounded on _examples/original_source/stoneridge_cloner.py.
package cloner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/stoneridge/internal/ftpclient"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/observability"
	"github.com/oriys/stoneridge/internal/retention"
	"github.com/oriys/stoneridge/internal/runid"
	"github.com/oriys/stoneridge/internal/srerrors"
)

const fetchTimeout = 30 * time.Second

// FTPLister lists a path on an anonymous FTP server via internal/ftpclient.
// Its List method matches the Cloner.lister field signature, so tests can
// substitute a plain function without a real FTP server.
type FTPLister struct{ DialTimeout time.Duration }

// List logs into host and lists path, returning an empty slice (not an
// error) if the listing itself fails — per §4.5 step 2, a listing failure
// is treated as an empty directory and logged, not propagated.
func (l FTPLister) List(host, path string) []string {
	timeout := l.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client, err := ftpclient.Dial(host, timeout)
	if err != nil {
		logging.Op().Warn("cloner: ftp dial failed, treating as empty listing", "host", host, "error", err)
		return nil
	}
	defer client.Quit()

	if err := client.CWD(path); err != nil {
		logging.Op().Warn("cloner: ftp cwd failed, treating as empty listing", "path", path, "error", err)
		return nil
	}
	files, err := client.List("")
	if err != nil {
		logging.Op().Warn("cloner: ftp listing failed, treating as empty", "path", path, "error", err)
		return nil
	}
	return files
}

// Deferrer requeues a request after a configured wait, invoked as a
// separate fire-and-forget agent per §4.6.
type Deferrer interface {
	Defer(ctx context.Context, req model.RunRequest) error
}

// Config holds the cloner's static settings, sourced from the [cloner]
// config section.
type Config struct {
	Host        string
	Scheme      string // defaults to "https"; tests may set "http"
	Root        string
	OutputRoot  string
	Keep        int
	MaxAttempts int
}

// Cloner implements the staged clone algorithm of §4.5.
type Cloner struct {
	cfg      Config
	lister   func(host, path string) []string
	deferrer Deferrer
	client   *http.Client
}

// New builds a Cloner whose lister is FTPLister.List.
func New(cfg Config, deferrer Deferrer) *Cloner {
	l := FTPLister{}
	return &Cloner{
		cfg:      cfg,
		lister:   l.List,
		deferrer: deferrer,
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

// Run executes the clone algorithm for req, writing to
// <OutputRoot>/<srid>/<platform>/{build, tests.zip}.
func (c *Cloner) Run(ctx context.Context, req model.RunRequest) error {
	ctx, span := observability.StartSpan(ctx, "cloner.run", observability.AttrSrid.String(req.Srid))
	defer span.End()

	basePath := c.uploadPath(req)

	files := c.listFiles(ctx, c.cfg.Root+"/"+basePath)

	if !req.Nightly {
		builds := buildsFor(req.OperatingSystems)
		var missing []string
		for _, b := range builds {
			if !contains(files, b.TrySubdir) {
				missing = append(missing, b.TrySubdir)
			}
		}
		if len(missing) > 0 {
			logging.Op().Info("cloner: upstream subtree missing, deferring", "srid", req.Srid, "missing", missing)
			return c.deferOrFail(ctx, req)
		}

		distPath := basePath + "/" + builds[0].TrySubdir
		distFiles := c.listFiles(ctx, c.cfg.Root+"/"+distPath)
		if len(distFiles) == 0 {
			logging.Op().Error("cloner: no files found at dist path, dropping", "srid", req.Srid, "path", distPath)
			return fmt.Errorf("cloner: no files at %s: %w", distPath, srerrors.ErrUpstreamUnavailable)
		}
		files = distFiles
	}

	prefix, err := extractPrefix(files)
	if err != nil {
		return fmt.Errorf("cloner: %w: %w", err, srerrors.ErrUpstreamUnavailable)
	}

	outdir := filepath.Join(c.cfg.OutputRoot, req.Srid)
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return fmt.Errorf("cloner: create outdir: %w", err)
	}

	builds := buildsFor(req.OperatingSystems)
	for _, b := range builds {
		if err := c.cloneBuild(ctx, req, basePath, outdir, prefix, b); err != nil {
			return err
		}
	}

	return c.pruneHistory()
}

// listFiles wraps the FTP directory listing in a span; path is the
// server-relative directory, logged as an attribute for correlation.
func (c *Cloner) listFiles(ctx context.Context, path string) []string {
	_, span := observability.StartSpan(ctx, "cloner.ftp_list", attribute.String("path", path))
	defer span.End()
	return c.lister(c.cfg.Host, path)
}

func (c *Cloner) uploadPath(req model.RunRequest) string {
	if req.Nightly {
		return "nightly/latest-mozilla-central"
	}
	return "try-builds/" + runid.TruncateSHA(req.Sha)
}

func (c *Cloner) deferOrFail(ctx context.Context, req model.RunRequest) error {
	if req.Attempt+1 > c.cfg.MaxAttempts {
		logging.Op().Error("cloner: exhausted deferrals", "srid", req.Srid, "attempt", req.Attempt)
		return srerrors.ErrExhaustedDeferrals
	}
	next := req
	next.Attempt = req.Attempt + 1
	if err := c.deferrer.Defer(ctx, next); err != nil {
		return fmt.Errorf("cloner: invoke deferrer: %w", err)
	}
	return srerrors.ErrUpstreamUnavailable
}

func (c *Cloner) cloneBuild(ctx context.Context, req model.RunRequest, basePath, outdir, prefix string, b platformBuild) error {
	platDir := filepath.Join(outdir, b.OutDir)
	if err := os.MkdirAll(platDir, 0o755); err != nil {
		return fmt.Errorf("cloner: create platform dir %s: %w", b.OutDir, err)
	}

	buildURL := c.downloadURL(req, basePath, b, b.srcFilename(prefix))
	if err := c.fetchTo(ctx, buildURL, filepath.Join(platDir, b.DestName)); err != nil {
		return fmt.Errorf("cloner: fetch %s: %w: %w", b.OutDir, err, srerrors.ErrDownloadFailed)
	}

	testsURL := c.downloadURL(req, basePath, b, b.testZipFilename(prefix))
	if err := c.fetchTo(ctx, testsURL, filepath.Join(platDir, "tests.zip")); err != nil {
		return fmt.Errorf("cloner: fetch %s tests.zip: %w: %w", b.OutDir, err, srerrors.ErrDownloadFailed)
	}
	return nil
}

func (c *Cloner) downloadURL(req model.RunRequest, basePath string, b platformBuild, filename string) string {
	remote := c.cfg.Root + "/" + basePath
	if !req.Nightly {
		remote += "/" + b.TrySubdir
	}
	remote += "/" + filename
	scheme := c.cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.cfg.Host, remote)
}

func (c *Cloner) fetchTo(ctx context.Context, url, outfile string) (err error) {
	ctx, span := observability.StartSpan(ctx, "cloner.fetch", attribute.String("url", url))
	defer func() {
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	tmp := outfile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, outfile)
}

// pruneHistory keeps the Keep most-recently-modified non-hidden
// subdirectories of OutputRoot, deleting the rest.
func (c *Cloner) pruneHistory() error {
	keep := c.cfg.Keep
	if keep <= 0 {
		keep = 50
	}
	return retention.Prune(c.cfg.OutputRoot, keep, func(dir string, err error) {
		logging.Op().Warn("cloner: failed to prune directory", "dir", dir, "error", err)
	})
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func extractPrefix(files []string) (string, error) {
	var candidate string
	for _, f := range files {
		if strings.HasSuffix(f, ".checksums.asc") {
			candidate = f
		}
	}
	if candidate == "" {
		return "", fmt.Errorf("no .checksums.asc file found in listing")
	}
	trimmed := strings.TrimSuffix(candidate, ".checksums.asc")
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 {
		return trimmed, nil
	}
	return trimmed[:idx], nil
}
