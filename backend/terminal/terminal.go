// Package terminal renders Dance instructions and patterns as text on a
// console. It is an output-only device; pair it with an Input from another
// backend when a terminal is used to watch a handshake.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lockdance/dance"
	"github.com/opd-ai/lockdance/pattern"
)

// ErrIncomplete is returned by Flush when only one half of an instruction
// has been staged.
var ErrIncomplete = errors.New("terminal: instruction half staged")

const (
	reset = "\x1b[0m"
	bold  = "\x1b[1m"
)

// visualPalette maps each visual op to an xterm 256-colour index.
var visualPalette = [pattern.NumVisualOps]int{
	196, 208, 226, 46, 51, 21, 54, 129,
	231, 218, 214, 37, 201, 118, 220, 238,
}

var audioGlyphs = [pattern.NumAudioOps]string{
	"·", "▁", "▄", "█", "↗", "↘", "♪+", "♪-",
	"♫", "≈", "◌", "|", "ᵛ", "∿", "◼", "♒",
}

var shapeGlyphs = [pattern.NumShapes]string{"●", "■", "▲", "◆", "★", "⬢", "○", "✚"}

// Terminal is a backend.Output writing one line per instruction.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	label  string
	color  bool
	visual *pattern.VisualOp
	audio  *pattern.AudioOp
	count  int
}

// New creates a terminal device writing to w. Lines are prefixed with label;
// color enables ANSI escapes.
func New(w io.Writer, label string, color bool) *Terminal {
	return &Terminal{w: w, label: label, color: color}
}

// Display stages the visual half of the next line.
func (t *Terminal) Display(op pattern.VisualOp) error {
	if !op.Valid() {
		return fmt.Errorf("terminal: %s out of range", op)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visual = &op
	return nil
}

// Play stages the audio half of the next line.
func (t *Terminal) Play(op pattern.AudioOp) error {
	if !op.Valid() {
		return fmt.Errorf("terminal: %s out of range", op)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = &op
	return nil
}

// Clear drops anything staged.
func (t *Terminal) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visual, t.audio = nil, nil
	return nil
}

// Flush writes the staged instruction. Flushing with nothing staged is a
// no-op.
func (t *Terminal) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.visual == nil && t.audio == nil:
		return nil
	case t.visual == nil || t.audio == nil:
		return ErrIncomplete
	}
	in := dance.NewInstruction(*t.visual, *t.audio)
	t.visual, t.audio = nil, nil
	return t.write(in)
}

// WriteInstruction writes in immediately, including its payload nibble.
func (t *Terminal) WriteInstruction(in dance.Instruction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visual, t.audio = nil, nil
	return t.write(in)
}

// Count returns the number of lines written.
func (t *Terminal) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Terminal) write(in dance.Instruction) error {
	t.count++
	line := fmt.Sprintf("%s %3d  %s  %s", t.label, t.count,
		t.swatch(in.Visual), t.audioCell(in.Audio))
	if in.HasData {
		line += fmt.Sprintf("  +%x", in.Data)
	}
	if sig := in.Signal(); sig != dance.SignalNone {
		line += "  " + t.emphasis(sig.String())
	}
	if _, err := fmt.Fprintln(t.w, line); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "terminal.write",
			"label":    t.label,
			"error":    err.Error(),
		}).Warn("Terminal write failed")
		return fmt.Errorf("terminal: %w", err)
	}
	return nil
}

func (t *Terminal) swatch(op pattern.VisualOp) string {
	name := fmt.Sprintf("%-14s", op)
	if !t.color {
		return name
	}
	return fmt.Sprintf("\x1b[48;5;%dm  %s %s", visualPalette[op], reset, name)
}

func (t *Terminal) audioCell(op pattern.AudioOp) string {
	return fmt.Sprintf("%-2s %-12s", audioGlyphs[op], op)
}

func (t *Terminal) emphasis(s string) string {
	if !t.color {
		return "[" + s + "]"
	}
	return bold + "[" + s + "]" + reset
}

// RenderPattern formats a full pattern on one line, drawing the shape in the
// pattern's own colour when color is set.
func RenderPattern(p pattern.Pattern, color bool) string {
	var b strings.Builder
	glyph := shapeGlyphs[p.Visual.Shape%pattern.NumShapes]
	if color {
		r, g, bl := p.Visual.Color.RGB()
		fmt.Fprintf(&b, "\x1b[38;2;%d;%d;%dm%s%s ", r, g, bl, glyph, reset)
	} else {
		b.WriteString(glyph + " ")
	}
	fmt.Fprintf(&b, "%s %s %s %s", p.Visual.Op, p.Visual.Color, p.Visual.Shape, p.Visual.Motion)
	fmt.Fprintf(&b, " | %s %s %s %s", audioGlyphs[p.Audio.Op%pattern.NumAudioOps], p.Audio.Op, p.Audio.Frequency, p.Audio.Chord)
	fmt.Fprintf(&b, " [%s]", p.Audio.Rhythm)
	return b.String()
}
