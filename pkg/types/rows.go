package types

import "time"

// ContentMeta is the metadata row kept for every blob known locally.
// The content hash is the row key and must equal the SHA-256 of the
// framed bytes on disk.
type ContentMeta struct {
	ContentHash string    `json:"content_hash"`
	FilePath    string    `json:"file_path"`
	FileName    string    `json:"file_name"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	LastAccess  time.Time `json:"last_accessed"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Username    string    `json:"username"`
	Signature   string    `json:"signature"`
	PublicKey   string    `json:"public_key"`
	Verified    bool      `json:"verified"`
}

// KnownServer is a server the client has connected to before.
type KnownServer struct {
	Address       string    `json:"address"`
	Reputation    int       `json:"reputation"`
	LastConnected time.Time `json:"last_connected"`
	Active        bool      `json:"active"`
	UseTLS        bool      `json:"use_tls"`
}

// NetworkNode is a locally cached row of the server's peer table.
type NetworkNode struct {
	NodeID     string    `json:"node_id"`
	Address    string    `json:"address"`
	NodeType   string    `json:"node_type"`
	Reputation int       `json:"reputation"`
	Status     string    `json:"status"`
	LastSeen   time.Time `json:"last_seen"`
}

// DNSRecord is a locally cached name resolution.
type DNSRecord struct {
	Domain      string    `json:"domain"`
	ContentHash string    `json:"content_hash"`
	Username    string    `json:"username"`
	Verified    bool      `json:"verified"`
	Timestamp   time.Time `json:"timestamp"`
	DDNSHash    string    `json:"ddns_hash"`
}

// Report is a locally recorded abuse report. At most one row may exist
// per (Reporter, ContentHash).
type Report struct {
	ID           string    `json:"report_id"`
	ContentHash  string    `json:"content_hash"`
	ReportedUser string    `json:"reported_user"`
	Reporter     string    `json:"reporter"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason"`
}

// HistoryEntry records one command invocation.
type HistoryEntry struct {
	ID        uint64    `json:"id"`
	Command   string    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Result    string    `json:"result"`
}

// StatKey names a durable statistics counter.
type StatKey string

const (
	StatSessionStart      StatKey = "session_start"
	StatDataSent          StatKey = "data_sent"
	StatDataReceived      StatKey = "data_received"
	StatContentDownloaded StatKey = "content_downloaded"
	StatContentUploaded   StatKey = "content_uploaded"
	StatDNSRegistered     StatKey = "dns_registered"
	StatPowSolved         StatKey = "pow_solved"
	StatPowTime           StatKey = "pow_time"
	StatContentReported   StatKey = "content_reported"
	StatHashesCalculated  StatKey = "hashes_calculated"
)

// StatKeys lists every durable counter in display order.
var StatKeys = []StatKey{
	StatSessionStart,
	StatDataSent,
	StatDataReceived,
	StatContentDownloaded,
	StatContentUploaded,
	StatDNSRegistered,
	StatPowSolved,
	StatPowTime,
	StatContentReported,
	StatHashesCalculated,
}

// Session value keys persisted across restarts.
const (
	SessionKeyCurrentUser   = "current_user"
	SessionKeyCurrentServer = "current_server"
	SessionKeyReputation    = "reputation"
	SessionKeyUsername      = "username"
)
