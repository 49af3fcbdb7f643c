package display

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/term"
)

// ANSI escape sequences used by the interactive renderer.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// Printer renders command output. In plain mode every escape sequence
// is suppressed and interactive prompts become errors, so the output
// stays machine-consumable for the controller bridge.
type Printer struct {
	out   io.Writer
	in    *bufio.Reader
	plain bool
}

// New builds a Printer writing to out and reading prompts from in.
func New(out io.Writer, in io.Reader, plain bool) *Printer {
	return &Printer{out: out, in: bufio.NewReader(in), plain: plain}
}

// Plain reports whether interactive affordances are disabled.
func (p *Printer) Plain() bool {
	return p.plain
}

func (p *Printer) color(code, s string) string {
	if p.plain {
		return s
	}
	return code + s + ansiReset
}

// Printf writes formatted output.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Println writes one output line.
func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// Successf reports a completed operation.
func (p *Printer) Successf(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiGreen, "✓ "+fmt.Sprintf(format, args...)))
}

// Errorf reports a failed operation.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiRed, "✗ "+fmt.Sprintf(format, args...)))
}

// Warnf reports a non-fatal condition.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiYellow, "! "+fmt.Sprintf(format, args...)))
}

// Infof reports neutral progress.
func (p *Printer) Infof(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiCyan, fmt.Sprintf(format, args...)))
}

// Header prints a section title.
func (p *Printer) Header(title string) {
	fmt.Fprintln(p.out, p.color(ansiBold, title))
	fmt.Fprintln(p.out, p.color(ansiDim, strings.Repeat("─", len([]rune(title)))))
}

// Table renders rows under headers with column widths fitted to the
// data. Cells are plain strings; formatting happens before the call.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		fmt.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(p.out, p.color(ansiBold, strings.TrimRight(b.String(), " ")))

	for _, row := range rows {
		b.Reset()
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(p.out, strings.TrimRight(b.String(), " "))
	}
}

// Prompt reads one line after printing label. Fails in plain mode:
// non-interactive callers must pass every argument up front.
func (p *Printer) Prompt(label string) (string, error) {
	if p.plain {
		return "", fmt.Errorf("interactive prompt %q unavailable in non-interactive mode", label)
	}
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// PromptSecret reads a line without echo when stdin is a terminal.
func (p *Printer) PromptSecret(label string, fd int) (string, error) {
	if p.plain {
		return "", fmt.Errorf("interactive prompt %q unavailable in non-interactive mode", label)
	}
	if !term.IsTerminal(fd) {
		return p.Prompt(label)
	}
	fmt.Fprint(p.out, label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// MiningProgress renders one mining progress line, overwriting the
// previous one on interactive terminals.
func (p *Printer) MiningProgress(hashes uint64, elapsed time.Duration, hashrate float64) {
	if p.plain {
		return
	}
	fmt.Fprintf(p.out, "\r%s", p.color(ansiDim, fmt.Sprintf(
		"mining… %d hashes in %s (%.0f H/s)", hashes, elapsed.Truncate(time.Second), hashrate)))
}

// MiningDone terminates the progress line.
func (p *Printer) MiningDone() {
	if !p.plain {
		fmt.Fprintln(p.out)
	}
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
