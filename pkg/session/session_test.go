package session

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/hsyst/hps-cli/pkg/keys"
	"github.com/hsyst/hps-cli/pkg/types"
)

var (
	ksOnce sync.Once
	ksVal  *keys.KeyStore
	ksErr  error
)

func testKeys(t *testing.T) *keys.KeyStore {
	t.Helper()
	ksOnce.Do(func() {
		dir, err := os.MkdirTemp("", "hps-session-*")
		if err != nil {
			ksErr = err
			return
		}
		ksVal, ksErr = keys.Open(dir)
	})
	if ksErr != nil {
		t.Fatalf("failed to prepare keys: %v", ksErr)
	}
	return ksVal
}

// fakeServer plays the server half of the handshake with its own key.
type fakeServer struct {
	priv *rsa.PrivateKey
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate server key: %v", err)
	}
	return &fakeServer{priv: priv}
}

func (f *fakeServer) publicKeyB64(t *testing.T) string {
	t.Helper()
	pemBytes, err := keys.MarshalPublicKeyPEM(&f.priv.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal server key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(pemBytes)
}

func (f *fakeServer) sign(t *testing.T, data []byte) string {
	t.Helper()
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, f.priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func (f *fakeServer) challenge(t *testing.T, challenge string) *types.ServerAuthChallenge {
	return &types.ServerAuthChallenge{
		Challenge:       challenge,
		ServerPublicKey: f.publicKeyB64(t),
		Signature:       f.sign(t, []byte(challenge)),
	}
}

// TestIdentityShapes tests the derived per-process identifiers
func TestIdentityShapes(t *testing.T) {
	s := New(testKeys(t))

	hexRe := regexp.MustCompile(`^[0-9a-f]+$`)
	if len(s.NodeID) != 32 || !hexRe.MatchString(s.NodeID) {
		t.Errorf("NodeID = %q, want 32 hex chars", s.NodeID)
	}
	if len(s.ClientIdentifier) != 64 || !hexRe.MatchString(s.ClientIdentifier) {
		t.Errorf("ClientIdentifier = %q, want 64 hex chars", s.ClientIdentifier)
	}
	if s.SessionID == "" {
		t.Errorf("SessionID must not be empty")
	}

	other := New(testKeys(t))
	if other.NodeID == s.NodeID {
		t.Errorf("two sessions must not share a node id")
	}
}

// TestHandshakeHappyPath tests accepting a correctly signed challenge
func TestHandshakeHappyPath(t *testing.T) {
	ks := testKeys(t)
	s := New(ks)
	s.SetCredentials("server.example:9000", "alice", "secret")
	srv := newFakeServer(t)

	resp, err := s.HandleServerAuthChallenge(srv.challenge(t, "nonce-1"))
	if err != nil {
		t.Fatalf("HandleServerAuthChallenge() error = %v", err)
	}
	if resp.ClientChallenge == "" {
		t.Errorf("client challenge must not be empty")
	}
	if resp.ClientPublicKey != base64.StdEncoding.EncodeToString(ks.PublicPEM()) {
		t.Errorf("client public key mismatch")
	}

	// The client signature over its own challenge must verify.
	pub, err := keys.ParsePublicKeyPEM(ks.PublicPEM())
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM() error = %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(resp.ClientSignature)
	if err != nil {
		t.Fatalf("failed to decode client signature: %v", err)
	}
	if err := keys.Verify(pub, []byte(resp.ClientChallenge), sig); err != nil {
		t.Errorf("client signature does not verify: %v", err)
	}
}

// TestHandshakeRejectsTamperedSignature tests the invalid-signature path
func TestHandshakeRejectsTamperedSignature(t *testing.T) {
	s := New(testKeys(t))
	s.SetCredentials("server.example:9000", "alice", "secret")
	srv := newFakeServer(t)

	msg := srv.challenge(t, "nonce-1")
	msg.Signature = srv.sign(t, []byte("a different nonce"))

	_, err := s.HandleServerAuthChallenge(msg)
	if !errors.Is(err, types.ErrInvalidSignature) {
		t.Errorf("error = %v, want ErrInvalidSignature", err)
	}
}

// TestHandshakeRejectsKeyChange tests server key pinning
func TestHandshakeRejectsKeyChange(t *testing.T) {
	s := New(testKeys(t))
	s.SetCredentials("server.example:9000", "alice", "secret")

	first := newFakeServer(t)
	if _, err := s.HandleServerAuthChallenge(first.challenge(t, "n1")); err != nil {
		t.Fatalf("first handshake error = %v", err)
	}

	// Same address presents a different, validly signed key.
	second := newFakeServer(t)
	_, err := s.HandleServerAuthChallenge(second.challenge(t, "n2"))
	if !errors.Is(err, types.ErrInvalidSignature) {
		t.Errorf("error = %v, want ErrInvalidSignature on key change", err)
	}
}

// TestHandshakeRejectsIncompletePayload tests field validation
func TestHandshakeRejectsIncompletePayload(t *testing.T) {
	s := New(testKeys(t))
	_, err := s.HandleServerAuthChallenge(&types.ServerAuthChallenge{Challenge: "x"})
	if !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

// TestBuildAuthenticate tests the authenticate payload
func TestBuildAuthenticate(t *testing.T) {
	s := New(testKeys(t))
	s.SetCredentials("server.example:9000", "alice", "secret")
	srv := newFakeServer(t)
	if _, err := s.HandleServerAuthChallenge(srv.challenge(t, "n1")); err != nil {
		t.Fatalf("handshake error = %v", err)
	}

	req, err := s.BuildAuthenticate("12345", 987.5)
	if err != nil {
		t.Fatalf("BuildAuthenticate() error = %v", err)
	}
	if req.Username != "alice" {
		t.Errorf("username = %q, want alice", req.Username)
	}
	wantHash := sha256.Sum256([]byte("secret"))
	if req.PasswordHash != hex.EncodeToString(wantHash[:]) {
		t.Errorf("password hash mismatch")
	}
	if req.NodeType != "client" {
		t.Errorf("node type = %q, want client", req.NodeType)
	}
	if req.PowNonce != "12345" || req.HashrateObserved != 987.5 {
		t.Errorf("pow fields not carried through")
	}
	if req.ClientChallenge == "" || req.ClientChallengeSignature == "" {
		t.Errorf("client challenge binding missing")
	}
}

// TestBuildAuthenticateWithoutHandshake tests ordering enforcement
func TestBuildAuthenticateWithoutHandshake(t *testing.T) {
	s := New(testKeys(t))
	s.SetCredentials("server.example:9000", "alice", "secret")
	if _, err := s.BuildAuthenticate("0", 0); err == nil {
		t.Errorf("BuildAuthenticate must fail before the handshake")
	}
}

// TestLogoutClearsState tests credential scrubbing
func TestLogoutClearsState(t *testing.T) {
	s := New(testKeys(t))
	s.SetCredentials("server.example:9000", "alice", "secret")
	s.SetAuthenticated("alice", 120)

	if !s.LoggedIn() || s.Reputation() != 120 {
		t.Fatalf("authenticated state not recorded")
	}

	s.Logout()
	if s.LoggedIn() {
		t.Errorf("LoggedIn() = true after Logout")
	}
	if _, err := s.BuildAuthenticate("0", 0); err == nil {
		t.Errorf("stale challenge must not survive logout")
	}
}

// TestBanExpiry tests the ban window
func TestBanExpiry(t *testing.T) {
	s := New(testKeys(t))

	s.SetBanned(time.Now().Add(time.Hour), "rate limited")
	banned, _, reason := s.Banned()
	if !banned || reason != "rate limited" {
		t.Errorf("active ban not reported")
	}

	s.SetBanned(time.Now().Add(-time.Second), "expired")
	if banned, _, _ := s.Banned(); banned {
		t.Errorf("expired ban still reported")
	}
}
