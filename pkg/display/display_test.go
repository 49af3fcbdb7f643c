package display

import (
	"bytes"
	"strings"
	"testing"
)

// TestPlainModeSuppressesANSI tests machine-consumable output
func TestPlainModeSuppressesANSI(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, strings.NewReader(""), true)

	p.Successf("done")
	p.Errorf("broken")
	p.Header("Section")

	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("plain output contains escape sequences: %q", buf.String())
	}
}

// TestInteractiveModeColors tests that escapes appear when allowed
func TestInteractiveModeColors(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, strings.NewReader(""), false)

	p.Successf("done")
	if !strings.Contains(buf.String(), "\033[32m") {
		t.Errorf("interactive output missing color escape: %q", buf.String())
	}
}

// TestPromptFailsInPlainMode tests prompts-as-errors
func TestPromptFailsInPlainMode(t *testing.T) {
	p := New(&bytes.Buffer{}, strings.NewReader("typed\n"), true)
	if _, err := p.Prompt("name: "); err == nil {
		t.Errorf("Prompt must fail in plain mode")
	}
}

// TestPromptReadsLine tests interactive input
func TestPromptReadsLine(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, strings.NewReader("  alice  \n"), false)

	got, err := p.Prompt("name: ")
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	if got != "alice" {
		t.Errorf("Prompt() = %q, want %q", got, "alice")
	}
	if !strings.Contains(buf.String(), "name: ") {
		t.Errorf("label not written")
	}
}

// TestTableAlignment tests column fitting
func TestTableAlignment(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, strings.NewReader(""), true)

	p.Table([]string{"A", "LONGHEADER"}, [][]string{
		{"wide-cell-value", "x"},
		{"y", "z"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("table rendered %d lines, want 3", len(lines))
	}
	// Every column starts at the same offset on each line.
	if strings.Index(lines[0], "LONGHEADER") != strings.Index(lines[1], "x") {
		t.Errorf("columns misaligned:\n%s", buf.String())
	}
}

// TestFormatBytes tests unit selection
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{104857600, "100.0 MiB"},
		{1073741824, "1.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
