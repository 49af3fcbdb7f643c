package commands

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/client"
	"github.com/hsyst/hps-cli/pkg/config"
	"github.com/hsyst/hps-cli/pkg/display"
	"github.com/hsyst/hps-cli/pkg/types"
)

// TestTokenize tests command line splitting
func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr bool
	}{
		{name: "plain", line: "upload file.txt", want: []string{"upload", "file.txt"}},
		{name: "extra spaces", line: "  search   cats  ", want: []string{"search", "cats"}},
		{name: "double quotes", line: `upload "my file.txt" --title "A Title"`, want: []string{"upload", "my file.txt", "--title", "A Title"}},
		{name: "single quotes", line: "search 'two words'", want: []string{"search", "two words"}},
		{name: "empty", line: "", want: nil},
		{name: "tabs", line: "a\tb", want: []string{"a", "b"}},
		{name: "unterminated", line: `upload "broken`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tokenize(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Errorf("tokenize(%q) expected error", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("tokenize(%q) error = %v", tt.line, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("tokenize(%q) = %v, want %v", tt.line, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("tokenize(%q)[%d] = %q, want %q", tt.line, i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestSplitFlags tests flag extraction
func TestSplitFlags(t *testing.T) {
	pos, flags, err := splitFlags(
		[]string{"file.txt", "--title", "My Title", "--mime", "text/plain"},
		[]string{"title", "desc", "mime"})
	if err != nil {
		t.Fatalf("splitFlags() error = %v", err)
	}
	if len(pos) != 1 || pos[0] != "file.txt" {
		t.Errorf("positional = %v", pos)
	}
	if flags["title"] != "My Title" || flags["mime"] != "text/plain" {
		t.Errorf("flags = %v", flags)
	}

	if _, _, err := splitFlags([]string{"--bogus", "x"}, []string{"title"}); err == nil {
		t.Errorf("unknown flag must be rejected")
	}
	if _, _, err := splitFlags([]string{"--title"}, []string{"title"}); err == nil {
		t.Errorf("flag without value must be rejected")
	}
}

var (
	coreOnce sync.Once
	coreVal  *client.Core
	coreErr  error
)

// sharedCore builds one offline core for the whole test binary; key
// generation makes per-test construction too slow.
func sharedCore(t *testing.T) *client.Core {
	t.Helper()
	coreOnce.Do(func() {
		dir, err := os.MkdirTemp("", "hps-commands-*")
		if err != nil {
			coreErr = err
			return
		}
		coreVal, coreErr = client.New(config.Default(dir), zerolog.Nop(), nil)
	})
	if coreErr != nil {
		t.Fatalf("failed to build core: %v", coreErr)
	}
	return coreVal
}

func newDispatcher(t *testing.T) (*Dispatcher, *bytes.Buffer, *client.Core) {
	t.Helper()
	core := sharedCore(t)
	var buf bytes.Buffer
	out := display.New(&buf, strings.NewReader(""), true)
	return New(core, out, zerolog.Nop()), &buf, core
}

// TestExecuteExit tests the exit verb
func TestExecuteExit(t *testing.T) {
	d, _, _ := newDispatcher(t)
	if err := d.Execute(context.Background(), "exit"); err != ErrExit {
		t.Errorf("Execute(exit) = %v, want ErrExit", err)
	}
	if err := d.Execute(context.Background(), "quit"); err != ErrExit {
		t.Errorf("Execute(quit) = %v, want ErrExit", err)
	}
}

// TestExecuteUnknownVerb tests rendering and history for a bad verb
func TestExecuteUnknownVerb(t *testing.T) {
	d, buf, core := newDispatcher(t)

	if err := d.Execute(context.Background(), "frobnicate now"); err != nil {
		t.Fatalf("Execute() = %v, command failures must be swallowed", err)
	}
	if !strings.Contains(buf.String(), "unknown command") {
		t.Errorf("failure not rendered: %q", buf.String())
	}

	entries, err := core.Store().ListHistory(1)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Command != "frobnicate now" || entries[0].Success {
		t.Errorf("history entry = %+v, want failed frobnicate row", entries[0])
	}
}

// TestExecuteRequiresLogin tests offline gating of network verbs
func TestExecuteRequiresLogin(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	for _, line := range []string{"upload somefile", "search cats", "report hash user", "rede"} {
		buf.Reset()
		if err := d.Execute(context.Background(), line); err != nil {
			t.Fatalf("Execute(%q) = %v", line, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Execute(%q) rendered nothing", line)
		}
	}
}

// TestExecuteFilesEmpty tests a local verb end to end
func TestExecuteFilesEmpty(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	if err := d.Execute(context.Background(), "files"); err != nil {
		t.Fatalf("Execute(files) = %v", err)
	}
	if !strings.Contains(buf.String(), "cache is empty") {
		t.Errorf("output = %q", buf.String())
	}
}

// TestExecuteStats tests stat rendering covers every counter
func TestExecuteStats(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	if err := d.Execute(context.Background(), "stats"); err != nil {
		t.Fatalf("Execute(stats) = %v", err)
	}
	for _, key := range types.StatKeys {
		if !strings.Contains(buf.String(), string(key)) {
			t.Errorf("stats output missing %s", key)
		}
	}
}

// TestExecuteDNSResOffline tests the cached resolution fallback
func TestExecuteDNSResOffline(t *testing.T) {
	d, buf, core := newDispatcher(t)

	if err := d.Execute(context.Background(), "dns-res nowhere"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(buf.String(), "dns-res:") {
		t.Errorf("uncached offline resolution must fail: %q", buf.String())
	}

	core.Store().PutDNSRecord(&types.DNSRecord{
		Domain:      "my-site",
		ContentHash: "abc123",
		Username:    "alice",
		Timestamp:   time.Now(),
	})

	buf.Reset()
	if err := d.Execute(context.Background(), "dns-res my-site"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(buf.String(), "abc123") || !strings.Contains(buf.String(), "offline") {
		t.Errorf("cached resolution not served: %q", buf.String())
	}
}

// TestExecuteHelp tests that help lists every verb
func TestExecuteHelp(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	if err := d.Execute(context.Background(), "help"); err != nil {
		t.Fatalf("Execute(help) = %v", err)
	}
	for _, verb := range []string{"login", "upload", "download", "dns-reg", "dns-res", "search", "report", "security", "keys", "history"} {
		if !strings.Contains(buf.String(), verb) {
			t.Errorf("help missing verb %s", verb)
		}
	}
}

// TestExecuteServersAddRemove tests local server book management
func TestExecuteServersAddRemove(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	if err := d.Execute(context.Background(), "servers add p2p.example.org:8443"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	buf.Reset()
	if err := d.Execute(context.Background(), "servers"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(buf.String(), "p2p.example.org:8443") {
		t.Errorf("added server not listed: %q", buf.String())
	}

	if err := d.Execute(context.Background(), "servers remove p2p.example.org:8443"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	buf.Reset()
	if err := d.Execute(context.Background(), "servers"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if strings.Contains(buf.String(), "p2p.example.org:8443") {
		t.Errorf("removed server still listed: %q", buf.String())
	}
}

// TestExecuteKeysShow tests printing the public identity
func TestExecuteKeysShow(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	if err := d.Execute(context.Background(), "keys show"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if !strings.Contains(buf.String(), "PUBLIC KEY") {
		t.Errorf("public key PEM not shown: %q", buf.String())
	}
}

// TestExecuteKeysUsage tests argument validation without touching keys
func TestExecuteKeysUsage(t *testing.T) {
	d, buf, _ := newDispatcher(t)

	if err := d.Execute(context.Background(), "keys"); err != nil {
		t.Fatalf("Execute(keys) = %v", err)
	}
	if !strings.Contains(buf.String(), "usage") {
		t.Errorf("usage not shown: %q", buf.String())
	}
}
