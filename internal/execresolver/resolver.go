// Package execresolver locates a usable browser-automation runtime on the
// host. Resolution is a prioritized search: an explicit operator override,
// then a depth-bounded walk of known install caches, then well-known system
// package locations. When nothing is found it can trigger a managed install.
package execresolver

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/singleflight"

	"github.com/relaydesk/relaydesk/config"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
)

// executableNames are the runtime binary names probed inside cache roots, in
// preference order.
var executableNames = []string{
	"chrome",
	"headless_shell",
	"chromium",
	"chrome.exe",
	"headless_shell.exe",
}

// systemPaths are well-known system package install locations, checked last.
var systemPaths = []string{
	"/usr/bin/google-chrome-stable",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/opt/google/chrome/chrome",
	"/snap/bin/chromium",
}

// installFunc performs a managed runtime install. It is replaceable in tests.
type installFunc func() error

// Resolver finds the automation runtime executable for session starts.
type Resolver struct {
	cfg     config.ResolverConfig
	logger  *slog.Logger
	install installFunc

	// installGroup serializes the managed install across concurrent session
	// starts. The install writes to a host-global cache, so the guard is per
	// host, not per workspace.
	installGroup singleflight.Group
}

// ResolverOptions contains the dependencies for creating a Resolver.
type ResolverOptions struct {
	Config  config.ResolverConfig
	Logger  *slog.Logger
	Install installFunc
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	install := opts.Install
	if install == nil {
		install = playwrightInstall
	}
	return &Resolver{
		cfg:     opts.Config,
		logger:  logger.With("component", "execresolver"),
		install: install,
	}
}

// playwrightInstall downloads the managed runtime into the host cache.
func playwrightInstall() error {
	return playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	})
}

// defaultCacheRoots returns the host's standard runtime cache directories.
func defaultCacheRoots() []string {
	var roots []string
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, ".cache", "ms-playwright"))
	}
	if cache, err := os.UserCacheDir(); err == nil {
		roots = append(roots, filepath.Join(cache, "ms-playwright"))
	}
	return roots
}

// Resolve searches for a runtime executable and returns its path, or the
// empty string when nothing usable exists on the host. First hit wins:
// operator override, then cache roots, then system package paths.
func (r *Resolver) Resolve(ctx context.Context) string {
	if override := strings.TrimSpace(r.cfg.ExecutablePath); override != "" {
		if isExecutableFile(override) {
			return override
		}
		r.logger.WarnContext(ctx, "configured runtime path does not exist, falling back to search",
			"path", override)
	}

	roots := r.cfg.CacheRoots
	if len(roots) == 0 {
		roots = defaultCacheRoots()
	}
	for _, root := range roots {
		if root = strings.TrimSpace(root); root == "" {
			continue
		}
		if path := searchCacheRoot(root, r.cfg.SearchDepth); path != "" {
			return path
		}
	}

	for _, path := range systemPaths {
		if isExecutableFile(path) {
			return path
		}
	}

	return ""
}

// EnsureInstalled resolves the runtime, triggering at most one managed
// install when nothing is found and on-demand install is enabled. It returns
// a structured unavailable error when no runtime can be produced.
func (r *Resolver) EnsureInstalled(ctx context.Context) (string, error) {
	if path := r.Resolve(ctx); path != "" {
		return path, nil
	}

	if !r.cfg.InstallOnDemand {
		return "", apperrors.Unavailable("automation runtime not found and on-demand install is disabled")
	}

	r.logger.InfoContext(ctx, "automation runtime not found, starting managed install")
	_, err, _ := r.installGroup.Do("runtime-install", func() (any, error) {
		return nil, r.install()
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "managed runtime install failed", "error", err)
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "automation runtime install failed")
	}

	if path := r.Resolve(ctx); path != "" {
		r.logger.InfoContext(ctx, "managed runtime install complete", "path", path)
		return path, nil
	}
	return "", apperrors.Unavailable("automation runtime still missing after install")
}

// searchCacheRoot walks a cache root looking for a runtime binary, bounded by
// maxDepth directory levels below the root.
func searchCacheRoot(root string, maxDepth int) string {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return ""
	}

	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fs.SkipDir
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fs.SkipDir
		}
		depth := strings.Count(rel, string(os.PathSeparator))
		if d.IsDir() {
			if depth >= maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		for _, name := range executableNames {
			if d.Name() == name && isExecutableFile(path) {
				found = path
				return fs.SkipAll
			}
		}
		return nil
	})
	return found
}

// isExecutableFile reports whether path is a regular file the process can
// execute.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
