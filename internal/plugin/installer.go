// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Download retry policy: transient dial failures and 5xx responses are worth
// one quick retry; anything else fails immediately.
const (
	downloadRetries   = 2
	downloadBackoff   = 500 * time.Millisecond
	downloadTimeout   = 2 * time.Minute
	progressChunkSize = 64 * 1024
)

// ProgressFunc receives download progress. Total is -1 when the content
// length is unknown; Fraction is then meaningless and Bytes should be shown.
type ProgressFunc func(bytes, total int64)

// InstallOutcome reports a completed install: the freshly scanned record and
// the requirements that are still missing from the runtime.
type InstallOutcome struct {
	Record      PluginRecord
	MissingDeps []string
}

// Installer downloads remote plugin artifacts, verifies them, and publishes
// them atomically into the local catalog. Update and fresh install share the
// same path; only the caller's framing differs.
type Installer struct {
	scanner  *Scanner
	state    *StateStore
	resolver *Resolver
	client   *http.Client
}

// InstallerOption configures the Installer.
type InstallerOption func(*Installer)

// WithHTTPClient overrides the download client, mainly for tests.
func WithHTTPClient(c *http.Client) InstallerOption {
	return func(ins *Installer) {
		ins.client = c
	}
}

// NewInstaller creates an installer over the local catalog and state store.
func NewInstaller(scanner *Scanner, state *StateStore, resolver *Resolver, opts ...InstallerOption) *Installer {
	ins := &Installer{
		scanner:  scanner,
		state:    state,
		resolver: resolver,
		client:   &http.Client{Timeout: downloadTimeout},
	}
	for _, opt := range opts {
		opt(ins)
	}
	return ins
}

// Install downloads, verifies, and publishes one remote plugin.
//
// The artifact streams to a temp file inside the target category directory
// (same volume, so the final rename is atomic) while a SHA-256 digest is
// updated incrementally. A digest mismatch deletes the temp file and nothing
// is installed. Any failure before the rename leaves no plugin file behind.
// On success the plugin is enabled and recorded as store-installed; state
// write failures degrade to in-memory state rather than failing the install.
func (ins *Installer) Install(ctx context.Context, rec RemotePluginRecord, progress ProgressFunc) (*InstallOutcome, error) {
	if !ValidCategory(rec.Category) {
		RecordInstall(StatusError)
		return nil, oops.
			With("plugin", rec.ID).
			With("category", string(rec.Category)).
			Wrap(ErrUnknownCategory)
	}

	dir := ins.scanner.CategoryDir(rec.Category)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		RecordInstall(StatusError)
		return nil, oops.Code(codeDownloadFailed).With("plugin", rec.ID).Wrap(err)
	}
	target := filepath.Join(dir, artifactFilename(rec))

	if err := ins.download(ctx, rec, target, progress); err != nil {
		RecordInstall(StatusError)
		return nil, err
	}

	slog.Info("plugin installed",
		"plugin", rec.ID,
		"version", rec.Version,
		"path", target)

	missing := ins.resolver.CheckMissing(ctx, rec.Requires)

	if err := ins.state.SaveEnabled(map[string]bool{rec.ID: true}); err != nil {
		StateSaveFailures.Inc()
		slog.Warn("failed to persist enabled state, keeping in memory",
			"plugin", rec.ID,
			"error", err)
	}
	if err := ins.state.MarkDownloaded(rec.ID); err != nil {
		StateSaveFailures.Inc()
		slog.Warn("failed to persist downloaded set, keeping in memory",
			"plugin", rec.ID,
			"error", err)
	}

	RecordInstall(StatusSuccess)

	installed := PluginRecord{
		ID:          rec.ID,
		Name:        rec.Name,
		Version:     rec.Version,
		Category:    rec.Category,
		Icon:        rec.Icon,
		Description: rec.Description,
		Requires:    rec.Requires,
		Path:        target,
		Module:      strings.TrimSuffix(filepath.Base(target), ".py"),
	}
	return &InstallOutcome{Record: installed, MissingDeps: missing}, nil
}

// download fetches the artifact into target via a temp file in the same
// directory. Each retry attempt restarts with a fresh temp file and digest.
func (ins *Installer) download(ctx context.Context, rec RemotePluginRecord, target string, progress ProgressFunc) error {
	backoff := retry.WithMaxRetries(downloadRetries, retry.NewFibonacci(downloadBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return ins.downloadOnce(ctx, rec, target, progress)
	})
	if err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			return err
		}
		return oops.Code(codeDownloadFailed).
			With("plugin", rec.ID).
			With("url", rec.DownloadURL).
			Wrap(err)
	}
	return nil
}

func (ins *Installer) downloadOnce(ctx context.Context, rec RemotePluginRecord, target string, progress ProgressFunc) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.DownloadURL, nil)
	if err != nil {
		return err // malformed URL, never retryable
	}

	resp, err := ins.client.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("error closing download body", "plugin", rec.ID, "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("download returned %s", resp.Status)
		if resp.StatusCode >= 500 {
			return retry.RetryableError(statusErr)
		}
		return statusErr
	}

	// Temp file lives in the target directory so the final rename cannot
	// cross a filesystem boundary.
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".part-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	hasher := sha256.New()
	total := resp.ContentLength
	var written int64

	buf := make([]byte, progressChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return werr
			}
			hasher.Write(buf[:n])
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return retry.RetryableError(readErr)
		}
	}

	if rec.SHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, rec.SHA256) {
			ChecksumFailures.Inc()
			err = oops.
				With("plugin", rec.ID).
				With("expected", strings.ToLower(rec.SHA256)).
				With("actual", got).
				Wrap(ErrChecksumMismatch)
			return err
		}
	} else {
		slog.Debug("no checksum published, skipping verification", "plugin", rec.ID)
	}

	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o640); err != nil {
		return err
	}

	// Single rename: no partial-file window for concurrent readers.
	if err = os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Uninstall removes a plugin from the catalog. The backing file is deleted
// only when the plugin was installed from a remote source; hand-authored
// plugin files are never touched, only their state entries removed.
func (ins *Installer) Uninstall(id string, rec *PluginRecord) error {
	if ins.state.IsDownloaded(id) {
		if rec != nil && rec.Path != "" {
			if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
				return oops.Code(codeDownloadFailed).With("plugin", id).Wrap(err)
			}
		}
		if err := ins.state.UnmarkDownloaded(id); err != nil {
			StateSaveFailures.Inc()
			slog.Warn("failed to persist downloaded set", "plugin", id, "error", err)
		}
		slog.Info("plugin uninstalled, file removed", "plugin", id)
	} else {
		slog.Info("plugin removed from catalog, local file kept", "plugin", id)
	}

	if err := ins.state.RemoveEnabled(id); err != nil {
		StateSaveFailures.Inc()
		slog.Warn("failed to persist enabled state", "plugin", id, "error", err)
	}
	return nil
}

// artifactFilename derives the installed filename from the download URL,
// falling back to the plugin id.
func artifactFilename(rec RemotePluginRecord) string {
	if u, err := url.Parse(rec.DownloadURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && strings.HasSuffix(base, ".py") {
			return base
		}
	}
	return rec.ID + ".py"
}
