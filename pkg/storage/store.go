package storage

import (
	"github.com/hsyst/hps-cli/pkg/types"
)

// VerifyReport is the outcome of re-checking a cached blob.
type VerifyReport struct {
	Meta        *types.ContentMeta
	Size        int64
	IntegrityOK bool
	SignatureOK bool
}

// Store defines the interface for the client's local state: the
// content cache, server/peer tables, cached resolutions, reports,
// command history and durable counters.
type Store interface {
	// Content cache
	PutContent(hash string, data []byte, meta *types.ContentMeta) error
	GetContent(hash string) ([]byte, *types.ContentMeta, error)
	GetContentMeta(hash string) (*types.ContentMeta, error)
	ListContent() ([]*types.ContentMeta, error)
	VerifyContent(hash string) (*VerifyReport, error)
	LocalFiles() ([]types.SyncFile, error)
	DiskUsage() (int64, error)

	// Known servers
	UpsertServer(server *types.KnownServer) error
	ListServers() ([]*types.KnownServer, error)
	RemoveServer(address string) error

	// Network nodes
	UpsertNode(node *types.NetworkNode) error
	ListNodes(limit int) ([]*types.NetworkNode, error)

	// DNS records
	PutDNSRecord(rec *types.DNSRecord) error
	GetDNSRecord(domain string) (*types.DNSRecord, error)

	// Reports
	HasReport(reporter, contentHash string) (bool, error)
	AddReport(rep *types.Report) error

	// History
	AppendHistory(command string, success bool, result string) error
	ListHistory(limit int) ([]*types.HistoryEntry, error)

	// Session values and durable counters
	SetSessionValue(key, value string) error
	GetSessionValue(key string) (string, error)
	LoadStats() (map[types.StatKey]int64, error)
	SaveStats(stats map[types.StatKey]int64) error

	Close() error
}
