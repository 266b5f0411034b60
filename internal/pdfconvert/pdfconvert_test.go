package pdfconvert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomas/slidemanager-daemon/internal/constants"
)

// writeFakeConverter writes a tiny shell script that mimics the relevant
// slice of LibreOffice's CLI contract: it reads --outdir and the source
// path, and either writes <stem>.pdf there or sleeps forever (to exercise
// the timeout/kill path).
func writeFakeConverter(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-soffice.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake converter: %v", err)
	}
	return path
}

const succeedScript = `#!/bin/sh
outdir=""
src=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--outdir" ]; then
    outdir="$arg"
  fi
  prev="$arg"
  src="$arg"
done
stem=$(basename "$src" .pptx)
echo "fake pdf" > "$outdir/$stem.pdf"
exit 0
`

const hangScript = `#!/bin/sh
sleep 60
`

const failScript = `#!/bin/sh
echo "boom: cannot open file" 1>&2
exit 1
`

func TestConvert_Success(t *testing.T) {
	bin := writeFakeConverter(t, succeedScript)
	c := New(bin, t.TempDir())

	src := filepath.Join(t.TempDir(), "deck.pptx")
	if err := os.WriteFile(src, []byte("fake pptx"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "out", "deck.pdf")

	if err := c.Convert(context.Background(), src, dst, 5*time.Second); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(data) != "fake pdf\n" {
		t.Errorf("got %q", data)
	}
}

func TestConvert_TimeoutKillsAndReturnsTimeoutCode(t *testing.T) {
	bin := writeFakeConverter(t, hangScript)
	c := New(bin, t.TempDir())

	src := filepath.Join(t.TempDir(), "deck.pptx")
	os.WriteFile(src, []byte("fake pptx"), 0o644)
	dst := filepath.Join(t.TempDir(), "deck.pdf")

	start := time.Now()
	err := c.Convert(context.Background(), src, dst, 200*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	var convErr *ConvertError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *ConvertError, got %T", err)
	}
	if convErr.Code != constants.ErrPdfConvertTimeout {
		t.Errorf("got code %q, want %q", convErr.Code, constants.ErrPdfConvertTimeout)
	}
	if elapsed > 5*time.Second {
		t.Errorf("expected prompt kill, took %v", elapsed)
	}
}

func TestConvert_NonZeroExitReturnsFailCode(t *testing.T) {
	bin := writeFakeConverter(t, failScript)
	c := New(bin, t.TempDir())

	src := filepath.Join(t.TempDir(), "deck.pptx")
	os.WriteFile(src, []byte("fake pptx"), 0o644)
	dst := filepath.Join(t.TempDir(), "deck.pdf")

	err := c.Convert(context.Background(), src, dst, 5*time.Second)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var convErr *ConvertError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *ConvertError, got %T", err)
	}
	if convErr.Code != constants.ErrPdfConvertFail {
		t.Errorf("got code %q, want %q", convErr.Code, constants.ErrPdfConvertFail)
	}
}
