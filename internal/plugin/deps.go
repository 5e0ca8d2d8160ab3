// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
)

// DefaultInterpreter runs dependency checks and installs when the config
// does not name one.
const DefaultInterpreter = "python3"

// packageModules maps installable package names to the module name they are
// imported as. Packages absent from the table are assumed identically named.
var packageModules = map[string]string{
	"opencv-python":   "cv2",
	"pillow":          "PIL",
	"pyyaml":          "yaml",
	"scikit-learn":    "sklearn",
	"scikit-image":    "skimage",
	"pyserial":        "serial",
	"python-dateutil": "dateutil",
	"beautifulsoup4":  "bs4",
	"pyusb":           "usb",
	"msgpack-python":  "msgpack",
}

// moduleNamePattern limits what we will pass to the interpreter as a module
// name. Anything else is simply reported as missing.
var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ImportChecker reports whether a module is importable in the plugin runtime.
type ImportChecker func(ctx context.Context, module string) bool

// Resolver maps required package names to importable module names and checks
// their availability. It never reports an error: a check failure counts as
// missing.
type Resolver struct {
	interpreter string
	check       ImportChecker
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

// WithImportChecker overrides the availability probe, mainly for tests.
func WithImportChecker(check ImportChecker) ResolverOption {
	return func(r *Resolver) {
		r.check = check
	}
}

// NewResolver creates a resolver that probes imports through the given
// interpreter. An empty interpreter uses DefaultInterpreter.
func NewResolver(interpreter string, opts ...ResolverOption) *Resolver {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	r := &Resolver{interpreter: interpreter}
	r.check = r.probeImport
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ModuleFor returns the importable module name for a package.
func (r *Resolver) ModuleFor(pkg string) string {
	if mod, ok := packageModules[pkg]; ok {
		return mod
	}
	return pkg
}

// CheckMissing returns the subset of packages whose importable module cannot
// be resolved in the plugin runtime, preserving the input order.
func (r *Resolver) CheckMissing(ctx context.Context, packages []string) []string {
	var missing []string
	for _, pkg := range packages {
		mod := r.ModuleFor(pkg)
		if !moduleNamePattern.MatchString(mod) {
			slog.Warn("requirement has unusable module name, treating as missing",
				"package", pkg,
				"module", mod)
			missing = append(missing, pkg)
			continue
		}
		if !r.check(ctx, mod) {
			missing = append(missing, pkg)
		}
	}
	return missing
}

// probeImport asks the interpreter whether the module is importable without
// importing it (find_spec only, nothing from the module runs).
func (r *Resolver) probeImport(ctx context.Context, module string) bool {
	script := fmt.Sprintf(
		"import importlib.util, sys; sys.exit(0 if importlib.util.find_spec(%q) else 1)",
		module)
	err := exec.CommandContext(ctx, r.interpreter, "-c", script).Run()
	return err == nil
}

// InstallResult signals completion of a dependency install run.
type InstallResult struct {
	// Code is the installer process exit code; 0 means success.
	Code int
	// Err is set when the process could not be started or waited on.
	Err error
}

// InstallStream delivers installer output as it arrives. Lines is closed when
// output ends; Result then delivers exactly one completion value. Both
// channels are buffered so the child process never waits on a UI tick.
type InstallStream struct {
	Lines  <-chan string
	Result <-chan InstallResult
}

// DepInstaller spawns an isolated package-install process and streams its
// combined output.
type DepInstaller struct {
	interpreter string
	extraArgs   []string
}

// NewDepInstaller creates an installer using the given interpreter.
func NewDepInstaller(interpreter string, extraArgs ...string) *DepInstaller {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return &DepInstaller{interpreter: interpreter, extraArgs: extraArgs}
}

// Install starts `<interpreter> -m pip install --user <packages>` and returns
// a stream of its combined stdout/stderr. The caller polls the stream from
// its control loop; the worker side never blocks on the caller.
func (di *DepInstaller) Install(ctx context.Context, packages []string) *InstallStream {
	lines := make(chan string, 1024)
	result := make(chan InstallResult, 1)
	stream := &InstallStream{Lines: lines, Result: result}

	args := append([]string{"-m", "pip", "install", "--user"}, di.extraArgs...)
	args = append(args, packages...)

	cmd := exec.CommandContext(ctx, di.interpreter, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		close(lines)
		result <- InstallResult{Code: -1, Err: fmt.Errorf("start installer: %w", err)}
		return stream
	}

	slog.Info("dependency install started",
		"interpreter", di.interpreter,
		"packages", packages)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	go func() {
		err := cmd.Wait()
		// Closing the write end unblocks the scanner goroutine.
		_ = pw.Close()

		res := InstallResult{}
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			res.Code = exitErr.ExitCode()
		default:
			res.Code = -1
			res.Err = fmt.Errorf("wait for installer: %w", err)
		}

		if res.Code != 0 || res.Err != nil {
			slog.Warn("dependency install finished with failure",
				"code", res.Code,
				"error", res.Err)
		} else {
			slog.Info("dependency install finished", "packages", packages)
		}
		result <- res
	}()

	return stream
}
