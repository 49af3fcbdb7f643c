package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hsyst/hps-cli/pkg/keys"
	"github.com/hsyst/hps-cli/pkg/types"
)

// Session tracks the mutual-auth handshake and the authenticated state
// of the current server connection. A process holds at most one active
// session.
type Session struct {
	keys *keys.KeyStore

	// Immutable per-process identity.
	SessionID        string
	NodeID           string
	ClientIdentifier string

	mu              sync.Mutex
	currentServer   string
	currentUser     string
	username        string
	passwordHash    string
	reputation      int
	serverKeys      map[string]string // pinned server public key (b64 PEM) per address
	clientChallenge string
	bannedUntil     time.Time
	banReason       string
}

// New builds a session with a fresh per-process identity. The node id
// is the first 32 hex chars of SHA-256(session_id); the client
// identifier mixes the machine hardware address with the session id.
func New(ks *keys.KeyStore) *Session {
	sessionID := uuid.NewString()
	nodeSum := sha256.Sum256([]byte(sessionID))

	machineSum := sha256.Sum256([]byte(hardwareAddr()))
	machineID := hex.EncodeToString(machineSum[:])
	clientSum := sha256.Sum256([]byte(machineID + sessionID))

	return &Session{
		keys:             ks,
		SessionID:        sessionID,
		NodeID:           hex.EncodeToString(nodeSum[:])[:32],
		ClientIdentifier: hex.EncodeToString(clientSum[:]),
		reputation:       100,
		serverKeys:       make(map[string]string),
	}
}

func hardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			return iface.HardwareAddr.String()
		}
	}
	// No usable interface; a random stand-in keeps the identifier unique.
	buf := make([]byte, 6)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SetCredentials stages a login attempt against server.
func (s *Session) SetCredentials(server, username, password string) {
	sum := sha256.Sum256([]byte(password))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentServer = server
	s.username = username
	s.passwordHash = hex.EncodeToString(sum[:])
}

// HandleServerAuthChallenge verifies the server's signed challenge and
// builds the client's half of the handshake. The server key is pinned
// for the address for the lifetime of the process; a key change or a
// bad signature aborts with ErrInvalidSignature.
func (s *Session) HandleServerAuthChallenge(msg *types.ServerAuthChallenge) (*types.VerifyServerAuthResponse, error) {
	if msg.Challenge == "" || msg.ServerPublicKey == "" || msg.Signature == "" {
		return nil, fmt.Errorf("incomplete server auth challenge: %w", types.ErrInvalidArgument)
	}

	pemBytes, err := base64.StdEncoding.DecodeString(msg.ServerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode server public key: %w", err)
	}
	pub, err := keys.ParsePublicKeyPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode server signature: %w", err)
	}
	if err := keys.Verify(pub, []byte(msg.Challenge), sig); err != nil {
		return nil, types.ErrInvalidSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pinned, ok := s.serverKeys[s.currentServer]; ok && pinned != msg.ServerPublicKey {
		return nil, fmt.Errorf("server key changed for %s: %w", s.currentServer, types.ErrInvalidSignature)
	}
	s.serverKeys[s.currentServer] = msg.ServerPublicKey

	challenge := newClientChallenge()
	s.clientChallenge = challenge

	clientSig, err := s.keys.Sign([]byte(challenge))
	if err != nil {
		return nil, err
	}

	return &types.VerifyServerAuthResponse{
		ClientChallenge: challenge,
		ClientSignature: base64.StdEncoding.EncodeToString(clientSig),
		ClientPublicKey: base64.StdEncoding.EncodeToString(s.keys.PublicPEM()),
	}, nil
}

// newClientChallenge returns a 32-byte URL-safe token.
func newClientChallenge() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// BuildAuthenticate assembles the authenticate payload once the login
// PoW is solved.
func (s *Session) BuildAuthenticate(powNonce string, hashrate float64) (*types.AuthenticateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientChallenge == "" {
		return nil, fmt.Errorf("client auth challenge missing")
	}
	sig, err := s.keys.Sign([]byte(s.clientChallenge))
	if err != nil {
		return nil, err
	}

	return &types.AuthenticateRequest{
		Username:                 s.username,
		PasswordHash:             s.passwordHash,
		PublicKey:                base64.StdEncoding.EncodeToString(s.keys.PublicPEM()),
		NodeType:                 "client",
		ClientIdentifier:         s.ClientIdentifier,
		PowNonce:                 powNonce,
		HashrateObserved:         hashrate,
		ClientChallengeSignature: base64.StdEncoding.EncodeToString(sig),
		ClientChallenge:          s.clientChallenge,
	}, nil
}

// BuildJoinNetwork assembles the join_network payload.
func (s *Session) BuildJoinNetwork() *types.JoinNetworkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.JoinNetworkRequest{
		NodeID:           s.NodeID,
		Address:          "client_" + s.ClientIdentifier,
		PublicKey:        base64.StdEncoding.EncodeToString(s.keys.PublicPEM()),
		Username:         s.currentUser,
		NodeType:         "client",
		ClientIdentifier: s.ClientIdentifier,
	}
}

// SetAuthenticated records a successful login.
func (s *Session) SetAuthenticated(username string, reputation int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = username
	s.username = username
	s.reputation = reputation
}

// Logout clears the in-memory authenticated state. The pinned server
// keys survive; the password hash does not.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = ""
	s.username = ""
	s.passwordHash = ""
	s.clientChallenge = ""
}

// Restore reloads a persisted session snapshot at startup.
func (s *Session) Restore(user, server string, reputation int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = user
	s.currentServer = server
	if reputation > 0 {
		s.reputation = reputation
	}
}

func (s *Session) CurrentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser
}

func (s *Session) CurrentServer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentServer
}

func (s *Session) LoggedIn() bool {
	return s.CurrentUser() != ""
}

func (s *Session) Reputation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reputation
}

// SetBanned records a server-imposed rate-limit ban.
func (s *Session) SetBanned(until time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bannedUntil = until
	s.banReason = reason
}

// Banned returns the active ban, if any.
func (s *Session) Banned() (bool, time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Now().Before(s.bannedUntil) {
		return true, s.bannedUntil, s.banReason
	}
	return false, time.Time{}, ""
}
