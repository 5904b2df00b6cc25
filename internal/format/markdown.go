// Package format converts the Wazo markdown dialect into the HTML body
// used by Matrix formatted text messages.
package format

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// markdownInstance is initialized once and reused. The configuration
// (extensions, options) never changes and the goldmark converter is
// safe to share across goroutines.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
			),
		)
	})
	return markdownInstance
}

// ConversionError wraps a markdown-to-HTML failure. Callers degrade to
// a plain-text body; a conversion failure never fails a relay.
type ConversionError struct {
	Err error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("markdown conversion failed: %v", e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ConversionError) Unwrap() error { return e.Err }

// RenderMarkdown converts a Wazo message body to Matrix HTML.
//
// On failure it returns the zero string and a *ConversionError; the
// caller is expected to fall back to the plain-text body.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(input), &buf); err != nil {
		return "", &ConversionError{Err: err}
	}
	return strings.TrimSpace(buf.String()), nil
}
