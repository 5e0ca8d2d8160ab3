// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

//go:build integration

package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/stratalab/strata/internal/plugin"
)

const mapperSource = `
PLUGIN_INFO = {
    'id': 'xrf-mapper',
    'name': 'XRF Mapper',
    'version': '2.0.0',
    'category': 'software',
}

def run():
    pass
`

var _ = Describe("Plugin lifecycle", func() {
	var (
		ctx        context.Context
		pluginsDir string
		stateDir   string
		artifact   *httptest.Server
		sources    []*plugin.SourceDescriptor
		mgr        *plugin.Manager
	)

	digestOf := func(content string) string {
		sum := sha256.Sum256([]byte(content))
		return hex.EncodeToString(sum[:])
	}

	indexServer := func(records []plugin.RemotePluginRecord, delay time.Duration) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if delay > 0 {
				time.Sleep(delay)
			}
			Expect(json.NewEncoder(w).Encode(records)).To(Succeed())
		}))
		DeferCleanup(srv.Close)
		return srv
	}

	newManager := func() *plugin.Manager {
		return plugin.NewManager(pluginsDir, stateDir, sources, "",
			plugin.WithProbeTimeout(5*time.Second),
			plugin.WithResolver(plugin.NewResolver("", plugin.WithImportChecker(
				func(context.Context, string) bool { return true },
			))),
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		pluginsDir = GinkgoT().TempDir()
		stateDir = GinkgoT().TempDir()

		artifact = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(mapperSource))
		}))
		DeferCleanup(artifact.Close)

		record := plugin.RemotePluginRecord{
			ID:          "xrf-mapper",
			Name:        "XRF Mapper",
			Version:     "2.0.0",
			Category:    plugin.CategorySoftware,
			DownloadURL: artifact.URL + "/xrf-mapper.py",
			SHA256:      digestOf(mapperSource),
		}
		stale := record
		stale.Version = "1.0.0"

		// A slow source carrying the newest index and a fast stale mirror:
		// version must beat speed.
		primary := indexServer([]plugin.RemotePluginRecord{record}, 150*time.Millisecond)
		mirror := indexServer([]plugin.RemotePluginRecord{stale}, 0)
		sources = []*plugin.SourceDescriptor{
			{Name: "primary", IndexURL: primary.URL, Priority: 1},
			{Name: "mirror", IndexURL: mirror.URL, Priority: 2},
		}

		mgr = newManager()
	})

	It("walks a plugin from remote catalog to local install and back", func() {
		By("scanning an empty local catalog")
		catalog, err := mgr.Rescan(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(catalog[plugin.CategorySoftware]).To(BeEmpty())

		By("racing the sources and selecting the newest index")
		sel, err := mgr.FetchRemote(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sel.Source.Name).To(Equal("primary"))
		Expect(sel.Version.String()).To(Equal("2.0.0"))
		Expect(sel.Statuses).To(HaveLen(2))

		By("installing with checksum verification")
		outcome, err := mgr.Install(ctx, "xrf-mapper")
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.MissingDeps).To(BeEmpty())

		installed := filepath.Join(pluginsDir, "software", "xrf-mapper.py")
		Expect(installed).To(BeAnExistingFile())
		Expect(mgr.Enabled("xrf-mapper")).To(BeTrue())

		By("showing the plugin as up to date in the merged view")
		merged := mgr.Merged(plugin.CategorySoftware)
		Expect(merged).To(HaveLen(1))
		Expect(merged[0].Kind).To(Equal(plugin.KindBoth))
		Expect(merged[0].UpdateAvailable()).To(BeFalse())

		By("surviving a process restart")
		restarted := newManager()
		Expect(restarted.Enabled("xrf-mapper")).To(BeTrue())
		Expect(restarted.State().IsDownloaded("xrf-mapper")).To(BeTrue())

		By("uninstalling and deleting the store-installed file")
		_, err = restarted.Rescan(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(restarted.Uninstall(ctx, "xrf-mapper")).To(Succeed())
		Expect(installed).NotTo(BeAnExistingFile())
		Expect(restarted.Enabled("xrf-mapper")).To(BeFalse())
	})

	It("persists disable state across restarts without touching other ids", func() {
		Expect(mgr.ApplyEnabled(map[string]bool{"other-plugin": true})).To(Succeed())
		Expect(mgr.SetEnabled("xrf-mapper", false)).To(Succeed())

		restarted := newManager()
		Expect(restarted.Enabled("xrf-mapper")).To(BeFalse())
		Expect(restarted.Enabled("other-plugin")).To(BeTrue())
	})

	It("refuses a tampered artifact and leaves the catalog untouched", func() {
		tampered := plugin.RemotePluginRecord{
			ID:          "tampered",
			Name:        "Tampered",
			Version:     "1.0.0",
			Category:    plugin.CategorySoftware,
			DownloadURL: artifact.URL + "/tampered.py",
			SHA256:      digestOf("completely different content"),
		}
		bad := indexServer([]plugin.RemotePluginRecord{tampered}, 0)
		sources = []*plugin.SourceDescriptor{{Name: "bad", IndexURL: bad.URL}}
		mgr = newManager()

		_, err := mgr.FetchRemote(ctx)
		Expect(err).NotTo(HaveOccurred())

		_, err = mgr.Install(ctx, "tampered")
		Expect(err).To(MatchError(plugin.ErrChecksumMismatch))

		entries, readErr := os.ReadDir(filepath.Join(pluginsDir, "software"))
		Expect(readErr).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
		Expect(mgr.Enabled("tampered")).To(BeFalse())
	})

	It("keeps hand-authored plugin files on uninstall", func() {
		dir := filepath.Join(pluginsDir, "add-ons")
		Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
		path := filepath.Join(dir, "homebrew.py")
		Expect(os.WriteFile(path, []byte(
			`PLUGIN_INFO = {'id': 'homebrew', 'name': 'Homebrew', 'version': '0.1.0'}`,
		), 0o600)).To(Succeed())

		_, err := mgr.Rescan(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetEnabled("homebrew", true)).To(Succeed())

		Expect(mgr.Uninstall(ctx, "homebrew")).To(Succeed())
		Expect(path).To(BeAnExistingFile())
		Expect(mgr.Enabled("homebrew")).To(BeFalse())
	})
})
