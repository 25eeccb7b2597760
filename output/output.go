// Package output writes fetch results to the CLI's stdout in the requested
// character encoding.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/use-agent/pagefetch/models"
)

// NetworkFailure is printed in place of the page when navigation fails in
// the single-argument mode.
const NetworkFailure = "Unable to access network"

// Writer encodes everything written to it into the target charset.
// Call Close to flush the encoder.
type Writer struct {
	io.Writer
	closer io.Closer
	name   string
}

// NewWriter wraps w with an encoder for label (any WHATWG encoding label,
// e.g. "utf-8", "gbk", "shift_jis"). Characters the charset cannot
// represent are written as HTML character references instead of failing
// the write.
func NewWriter(w io.Writer, label string) (*Writer, error) {
	if strings.TrimSpace(label) == "" {
		label = models.DefaultCharset
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return nil, models.UsageError("unknown charset %q", label)
	}
	if name == "utf-8" {
		return &Writer{Writer: w, name: name}, nil
	}
	tw := transform.NewWriter(w, encoding.HTMLEscapeUnsupported(enc.NewEncoder()))
	return &Writer{Writer: tw, closer: tw, name: name}, nil
}

// Charset returns the canonical name of the output encoding.
func (w *Writer) Charset() string { return w.name }

// Close flushes any buffered encoder state. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// WriteJSON writes resp as one JSON line with the keys Header, Code, Cookie
// and Body. HTML is not escaped so bodies stay readable.
func WriteJSON(w io.Writer, resp *models.CapturedResponse) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("output: encode json: %w", err)
	}
	return nil
}

// WriteBody writes the page content followed by a newline.
func WriteBody(w io.Writer, body string) error {
	if _, err := io.WriteString(w, body+"\n"); err != nil {
		return fmt.Errorf("output: write body: %w", err)
	}
	return nil
}
