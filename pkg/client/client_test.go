package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/blob"
	"github.com/hsyst/hps-cli/pkg/config"
	"github.com/hsyst/hps-cli/pkg/types"
)

// silentServer accepts the websocket and never answers; enough for
// testing the checks that run before any round trip.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.OutputDir = t.TempDir()
	cfg.MaxUploadSize = 64
	cfg.AutoReconnect = false

	core, err := New(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { core.Close() })
	return core
}

// connect fakes an authenticated session against a silent server.
func connect(t *testing.T, core *Core, reputation int) {
	t.Helper()
	srv := silentServer(t)
	if err := core.conn.Connect(srv.URL); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	core.sess.SetAuthenticated("alice", reputation)
}

// TestVerbsRequireLogin tests offline gating
func TestVerbsRequireLogin(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	if _, err := core.Upload(ctx, "x", "", "", ""); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Upload error = %v, want not-logged-in", err)
	}
	if _, err := core.Search(ctx, "q", 0, "", ""); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Search error = %v, want not-logged-in", err)
	}
	if _, err := core.Report(ctx, "h", "u"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Report error = %v, want not-logged-in", err)
	}
}

// TestUploadSizeCap tests the configured upload limit
func TestUploadSizeCap(t *testing.T) {
	core := newTestCore(t)
	connect(t, core, 100)

	big := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(big, make([]byte, 65), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := core.Upload(context.Background(), big, "", "", "")
	if !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Upload error = %v, want ErrInvalidArgument for oversize file", err)
	}
}

// TestUploadMissingFile tests the stat error path
func TestUploadMissingFile(t *testing.T) {
	core := newTestCore(t)
	connect(t, core, 100)

	if _, err := core.Upload(context.Background(), "/no/such/file", "", "", ""); err == nil {
		t.Errorf("Upload must fail for a missing file")
	}
}

// TestReportPreconditions tests the local report gates
func TestReportPreconditions(t *testing.T) {
	core := newTestCore(t)
	connect(t, core, 19)
	ctx := context.Background()

	// Below the reputation floor.
	if _, err := core.Report(ctx, "hash1", "mallory"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("low-reputation Report error = %v, want ErrInvalidArgument", err)
	}

	core.sess.SetAuthenticated("alice", 100)

	// Reporting your own content.
	if _, err := core.Report(ctx, "hash1", "alice"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("self Report error = %v, want ErrInvalidArgument", err)
	}

	// Reporting the same blob twice.
	if err := core.store.AddReport(&types.Report{
		ContentHash: "hash1",
		Reporter:    "alice",
		Timestamp:   time.Now(),
	}); err != nil {
		t.Fatalf("AddReport() error = %v", err)
	}
	if _, err := core.Report(ctx, "hash1", "mallory"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("duplicate Report error = %v, want ErrInvalidArgument", err)
	}
}

// TestRegisterDNSValidation tests domain rejection before any round trip
func TestRegisterDNSValidation(t *testing.T) {
	core := newTestCore(t)
	connect(t, core, 100)

	for _, domain := range []string{"Upper", "under_score", "two..dots", ""} {
		if _, err := core.RegisterDNS(context.Background(), domain, "hash"); !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("RegisterDNS(%q) error = %v, want ErrInvalidArgument", domain, err)
		}
	}
}

type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// powServer answers every pow request with a zero-difficulty challenge,
// replies to other events per replies, and records everything it
// receives.
func powServer(t *testing.T, replies map[string]wireEnvelope, received chan wireEnvelope) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env wireEnvelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			received <- env

			if env.Event == types.EvRequestPowChallenge {
				var req types.PowChallengeRequest
				json.Unmarshal(env.Data, &req)
				data, _ := json.Marshal(&types.PowChallenge{
					Challenge:  base64.StdEncoding.EncodeToString([]byte("c")),
					ActionType: req.ActionType,
				})
				ws.WriteJSON(&wireEnvelope{Event: types.EvPowChallenge, Data: data})
				continue
			}
			if reply, ok := replies[env.Event]; ok {
				ws.WriteJSON(&reply)
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// TestRegisterDNSWirePayload tests the register_dns encoding on the wire
func TestRegisterDNSWirePayload(t *testing.T) {
	core := newTestCore(t)

	resultData, _ := json.Marshal(&types.DNSResult{Success: true, Domain: "my-site"})
	received := make(chan wireEnvelope, 16)
	srv := powServer(t, map[string]wireEnvelope{
		types.EvRegisterDNS: {Event: types.EvDNSResult, Data: resultData},
	}, received)

	if err := core.conn.Connect(srv.URL); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	core.sess.SetAuthenticated("alice", 100)

	res, err := core.RegisterDNS(context.Background(), "my-site", "abc123")
	if err != nil {
		t.Fatalf("RegisterDNS() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}

	// The server saw register_dns before it replied, so the envelope is
	// already buffered.
	var req *types.RegisterDNSRequest
	for len(received) > 0 {
		env := <-received
		if env.Event != types.EvRegisterDNS {
			continue
		}
		var r types.RegisterDNSRequest
		if err := json.Unmarshal(env.Data, &r); err != nil {
			t.Fatalf("malformed register_dns payload: %v", err)
		}
		req = &r
	}
	if req == nil {
		t.Fatalf("register_dns never reached the server")
	}

	doc := blob.DDNSDocument("alice", core.keys.PublicPEM(), "my-site", "abc123")
	if req.DDNSContent != base64.StdEncoding.EncodeToString(doc) {
		t.Errorf("ddns_content must carry the document base64-encoded")
	}
	if _, err := base64.StdEncoding.DecodeString(req.Signature); err != nil {
		t.Errorf("signature not base64: %v", err)
	}
}

// TestDownloadFromCache tests serving a cached blob without a server
func TestDownloadFromCache(t *testing.T) {
	core := newTestCore(t)

	payload := []byte("cached payload")
	framed := blob.Frame("alice", core.keys.PublicPEM(), payload)
	hash := blob.ContentHash(framed)
	if err := core.store.PutContent(hash, framed, &types.ContentMeta{Title: "t"}); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}

	got, meta, err := core.Download(context.Background(), hash)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
	if meta.ContentHash != hash {
		t.Errorf("meta hash mismatch")
	}
}

// TestSaveDownloadNaming tests output file name derivation
func TestSaveDownloadNaming(t *testing.T) {
	core := newTestCore(t)

	meta := &types.ContentMeta{ContentHash: "abc", FileName: "report.txt"}
	path, err := core.SaveDownload([]byte("data"), meta, "")
	if err != nil {
		t.Fatalf("SaveDownload() error = %v", err)
	}
	if filepath.Base(path) != "report.txt" {
		t.Errorf("derived name = %s, want report.txt", filepath.Base(path))
	}

	path, err = core.SaveDownload([]byte("data"), meta, "../escape.bin")
	if err != nil {
		t.Fatalf("SaveDownload() error = %v", err)
	}
	if filepath.Base(path) != "escape.bin" || filepath.Dir(path) != core.cfg.OutputDir {
		t.Errorf("explicit name must be flattened into the output dir, got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "data" {
		t.Errorf("written file mismatch: %v %q", err, data)
	}
}

// TestStatsAccumulate tests durable counter persistence
func TestStatsAccumulate(t *testing.T) {
	core := newTestCore(t)

	core.bumpStat(types.StatContentDownloaded, 2)
	core.bumpStat(types.StatContentDownloaded, 1)

	if got := core.Stats()[types.StatContentDownloaded]; got != 3 {
		t.Errorf("stat = %d, want 3", got)
	}

	// The counters survive through the store.
	saved, err := core.store.LoadStats()
	if err != nil {
		t.Fatalf("LoadStats() error = %v", err)
	}
	if saved[types.StatContentDownloaded] != 3 {
		t.Errorf("persisted stat = %d, want 3", saved[types.StatContentDownloaded])
	}
}
