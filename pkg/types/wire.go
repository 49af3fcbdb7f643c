package types

// ServerAuthChallenge is the server's half of the mutual-auth handshake.
// The signature covers the challenge string under the server's private key.
type ServerAuthChallenge struct {
	Challenge       string `json:"challenge"`
	ServerPublicKey string `json:"server_public_key"`
	Signature       string `json:"signature"`
}

// VerifyServerAuthResponse is the client's half of the handshake.
type VerifyServerAuthResponse struct {
	ClientChallenge string `json:"client_challenge"`
	ClientSignature string `json:"client_signature"`
	ClientPublicKey string `json:"client_public_key"`
}

// ServerAuthResult reports whether the server accepted the client challenge.
type ServerAuthResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PowChallengeRequest asks the server for a proof-of-work challenge
// gating the given action.
type PowChallengeRequest struct {
	ClientIdentifier string     `json:"client_identifier"`
	ActionType       ActionType `json:"action_type"`
}

// PowChallenge carries the mining parameters, or an error with an
// optional ban horizon (unix seconds) when the client is rate limited.
type PowChallenge struct {
	Challenge     string     `json:"challenge"`
	TargetBits    int        `json:"target_bits"`
	TargetSeconds float64    `json:"target_seconds"`
	ActionType    ActionType `json:"action_type"`
	Error         string     `json:"error,omitempty"`
	BlockedUntil  float64    `json:"blocked_until,omitempty"`
}

// AuthenticateRequest completes a login after the PoW is solved. The
// password never travels in the clear: only its SHA-256 hex digest is
// sent, and only over the server-authenticated channel.
type AuthenticateRequest struct {
	Username                 string  `json:"username"`
	PasswordHash             string  `json:"password_hash"`
	PublicKey                string  `json:"public_key"`
	NodeType                 string  `json:"node_type"`
	ClientIdentifier         string  `json:"client_identifier"`
	PowNonce                 string  `json:"pow_nonce"`
	HashrateObserved         float64 `json:"hashrate_observed"`
	ClientChallengeSignature string  `json:"client_challenge_signature"`
	ClientChallenge          string  `json:"client_challenge"`
}

// AuthenticationResult is the terminal event of the login flow.
type AuthenticationResult struct {
	Success    bool   `json:"success"`
	Username   string `json:"username,omitempty"`
	Reputation int    `json:"reputation,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JoinNetworkRequest announces the authenticated node to the peer table.
type JoinNetworkRequest struct {
	NodeID           string `json:"node_id"`
	Address          string `json:"address"`
	PublicKey        string `json:"public_key"`
	Username         string `json:"username"`
	NodeType         string `json:"node_type"`
	ClientIdentifier string `json:"client_identifier"`
}

// SyncFile describes one locally cached blob advertised to the server.
type SyncFile struct {
	ContentHash string `json:"content_hash"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

// SyncClientFilesRequest advertises the local content cache.
type SyncClientFilesRequest struct {
	Files []SyncFile `json:"files"`
}

// PublishContentRequest uploads a framed blob. ContentB64 carries the
// full framed form (header + payload); the signature covers only the
// raw payload.
type PublishContentRequest struct {
	ContentHash      string  `json:"content_hash"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	MimeType         string  `json:"mime_type"`
	Size             int64   `json:"size"`
	Signature        string  `json:"signature"`
	PublicKey        string  `json:"public_key"`
	ContentB64       string  `json:"content_b64"`
	PowNonce         string  `json:"pow_nonce"`
	HashrateObserved float64 `json:"hashrate_observed"`
}

// PublishResult is the terminal event of an upload.
type PublishResult struct {
	Success     bool   `json:"success"`
	ContentHash string `json:"content_hash,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RequestContentRequest fetches a blob by content hash.
type RequestContentRequest struct {
	ContentHash string `json:"content_hash"`
}

// ContentResponse delivers a requested blob with its author metadata.
type ContentResponse struct {
	Content     string `json:"content"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
	Username    string `json:"username"`
	Signature   string `json:"signature"`
	PublicKey   string `json:"public_key"`
	Verified    bool   `json:"verified"`
	ContentHash string `json:"content_hash"`
	Reputation  int    `json:"reputation,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RegisterDNSRequest binds a domain to a content hash via a signed
// DDNS document. DDNSContent carries the document base64-encoded; the
// signature covers the raw document bytes.
type RegisterDNSRequest struct {
	Domain           string  `json:"domain"`
	DDNSContent      string  `json:"ddns_content"`
	Signature        string  `json:"signature"`
	PublicKey        string  `json:"public_key"`
	PowNonce         string  `json:"pow_nonce"`
	HashrateObserved float64 `json:"hashrate_observed"`
}

// DNSResult is the terminal event of a name registration.
type DNSResult struct {
	Success bool   `json:"success"`
	Domain  string `json:"domain,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResolveDNSRequest resolves a registered domain.
type ResolveDNSRequest struct {
	Domain string `json:"domain"`
}

// DNSResolution is the terminal event of a name resolution.
type DNSResolution struct {
	Success     bool   `json:"success"`
	Domain      string `json:"domain,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Username    string `json:"username,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SearchContentRequest queries the server catalog.
type SearchContentRequest struct {
	Query       string `json:"query"`
	Limit       int    `json:"limit"`
	ContentType string `json:"content_type"`
	SortBy      string `json:"sort_by"`
}

// SearchResult is one catalog entry.
type SearchResult struct {
	ContentHash string `json:"content_hash"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	MimeType    string `json:"mime_type"`
	Verified    bool   `json:"verified"`
	Reputation  int    `json:"reputation"`
}

// SearchResults is the terminal event of a search.
type SearchResults struct {
	Results []SearchResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// GetNetworkStateRequest asks for the server's view of the network.
type GetNetworkStateRequest struct{}

// NetworkStateNode is one row of the server's peer table snapshot.
type NetworkStateNode struct {
	NodeID     string  `json:"node_id"`
	Address    string  `json:"address"`
	NodeType   string  `json:"node_type"`
	Reputation int     `json:"reputation"`
	Status     string  `json:"status"`
	LastSeen   float64 `json:"last_seen"`
}

// NetworkStateResponse summarizes the network from the server's view.
type NetworkStateResponse struct {
	OnlineNodes  int                `json:"online_nodes"`
	TotalContent int                `json:"total_content"`
	TotalDNS     int                `json:"total_dns"`
	NodeTypes    map[string]int     `json:"node_types,omitempty"`
	Nodes        []NetworkStateNode `json:"nodes,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// ReportContentRequest flags abusive content.
type ReportContentRequest struct {
	ContentHash      string  `json:"content_hash"`
	ReportedUser     string  `json:"reported_user"`
	Reporter         string  `json:"reporter"`
	PowNonce         string  `json:"pow_nonce"`
	HashrateObserved float64 `json:"hashrate_observed"`
}

// ReportResult is the terminal event of a report.
type ReportResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
