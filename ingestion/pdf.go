package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/poiesic/folio/core"
)

// ErrPDFToolNotFound indicates poppler's command line tools are not installed.
var ErrPDFToolNotFound = errors.New("pdfinfo/pdftotext not found in PATH (install poppler-utils)")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// PDFSource extracts pages with pdfinfo and pdftotext.
type PDFSource struct {
	root   string
	runner CommandRunner
}

var _ Extractor = (*PDFSource)(nil)

// NewPDFSource serves PDFs stored under root using the poppler tools on PATH.
func NewPDFSource(root string) *PDFSource {
	return NewPDFSourceWithRunner(root, execRunner{})
}

// NewPDFSourceWithRunner uses runner instead of executing commands.
func NewPDFSourceWithRunner(root string, runner CommandRunner) *PDFSource {
	return &PDFSource{root: root, runner: runner}
}

// CheckPDFTools reports whether the poppler tools can be found.
func CheckPDFTools() error {
	for _, tool := range []string{"pdfinfo", "pdftotext"} {
		if _, err := exec.LookPath(tool); err != nil {
			return ErrPDFToolNotFound
		}
	}
	return nil
}

// CountPages reads the "Pages:" line of pdfinfo.
func (s *PDFSource) CountPages(ctx context.Context, storagePath string) (int, error) {
	path, err := resolvePath(s.root, storagePath)
	if err != nil {
		return 0, err
	}
	out, err := s.runner.Run(ctx, "pdfinfo", path)
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		value, ok := strings.CutPrefix(scanner.Text(), "Pages:")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("parse page count %q: %w", value, err)
		}
		return n, nil
	}
	return 0, errors.New("pdfinfo output has no page count")
}

// PageText extracts a single page as text.
func (s *PDFSource) PageText(ctx context.Context, documentID core.ID, storagePath string, page int) (string, error) {
	path, err := resolvePath(s.root, storagePath)
	if err != nil {
		return "", &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "bad path", Err: err}
	}
	n := strconv.Itoa(page)
	out, err := s.runner.Run(ctx, "pdftotext", "-f", n, "-l", n, "-enc", "UTF-8", path, "-")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &core.ExtractionError{DocumentId: documentID, Page: page, Reason: "pdftotext failed", Err: err}
	}
	return strings.TrimSuffix(string(out), pageBreak), nil
}
