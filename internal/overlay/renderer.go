package overlay

import (
	"fmt"
	"io"
	"strings"
)

// Frame is one displayed sample set: the three latest percentages plus the
// CPU history snapshot for the trend chart.
type Frame struct {
	CPU        float64
	Memory     float64
	Disk       float64
	CPUHistory []float64
}

// Renderer displays frames. Window placement, styling, and everything else
// visual lives behind this boundary.
type Renderer interface {
	RenderFrame(f Frame) error
}

// TextRenderer writes one status line per frame. It is the headless stand-in
// for a graphical overlay window.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer creates a renderer writing to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

// Compile-time interface guard.
var _ Renderer = (*TextRenderer)(nil)

// RenderFrame writes the three readings with small progress bars.
func (r *TextRenderer) RenderFrame(f Frame) error {
	_, err := fmt.Fprintf(r.w, "CPU %s %5.1f%%  MEM %s %5.1f%%  DISK %s %5.1f%%\n",
		bar(f.CPU), f.CPU,
		bar(f.Memory), f.Memory,
		bar(f.Disk), f.Disk,
	)
	return err
}

// bar renders a ten-cell progress bar for a 0-100 value. Out-of-range values
// are clamped for display only.
func bar(pct float64) string {
	const cells = 10
	filled := int(pct / 100 * cells)
	if filled < 0 {
		filled = 0
	}
	if filled > cells {
		filled = cells
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", cells-filled) + "]"
}
