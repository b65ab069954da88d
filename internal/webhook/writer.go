package webhook

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// Writer prints the requests it would send instead of sending them. It is
// used for dry runs.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer that writes to w, or to os.Stdout if w is nil.
func NewWriter(w io.Writer) *Writer {
	if w == nil {
		w = os.Stdout
	}
	return &Writer{w: w}
}

// Deliver prints the request for h. It only fails if the output cannot be
// written.
func (p *Writer) Deliver(_ context.Context, h *hook.Hook, body string) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Hook: %s\n", h.Name)
	fmt.Fprintf(&b, "%s %s\n", h.Method, h.Target)

	keys := make([]string, 0, len(h.Headers))
	for k := range h.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, h.Headers[k])
	}

	b.WriteString("\n")
	b.WriteString(body + "\n")
	b.WriteString("========================================\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, b.String()); err != nil {
		return &DeliveryError{Hook: h.Name, Target: h.Target, Err: err}
	}
	return nil
}

// Name returns the deliverer name.
func (p *Writer) Name() string {
	return "dry-run"
}
