package storage

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hsyst/hps-cli/pkg/blob"
	"github.com/hsyst/hps-cli/pkg/keys"
	"github.com/hsyst/hps-cli/pkg/types"
)

var (
	// Bucket names, one per logical table.
	bucketContentCache = []byte("content_cache")
	bucketKnownServers = []byte("known_servers")
	bucketNetworkNodes = []byte("network_nodes")
	bucketDNSRecords   = []byte("dns_records")
	bucketReports      = []byte("reports")
	bucketHistory      = []byte("history")
	bucketSession      = []byte("session")
	bucketStats        = []byte("stats")
)

const dbFile = "hps_cli.db"

// BoltStore implements Store using BoltDB plus a content blob directory
// (<dataDir>/content/<hash>.dat).
type BoltStore struct {
	db         *bolt.DB
	dataDir    string
	contentDir string
}

// NewBoltStore opens (or creates) the store under dataDir. The open
// blocks up to 10s on the database file lock, standing in for a busy
// timeout when a second process holds the file.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	contentDir := filepath.Join(dataDir, "content")
	if err := os.MkdirAll(contentDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, dbFile), 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketContentCache,
			bucketKnownServers,
			bucketNetworkNodes,
			bucketDNSRecords,
			bucketReports,
			bucketHistory,
			bucketSession,
			bucketStats,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, dataDir: dataDir, contentDir: contentDir}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ContentPath returns the on-disk path of a blob.
func (s *BoltStore) ContentPath(hash string) string {
	return filepath.Join(s.contentDir, hash+".dat")
}

// Content cache operations

// PutContent writes the blob file atomically, then upserts its row.
func (s *BoltStore) PutContent(hash string, data []byte, meta *types.ContentMeta) error {
	path := s.ContentPath(hash)
	tmp, err := os.CreateTemp(s.contentDir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close content file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename content file: %w", err)
	}

	if meta == nil {
		meta = &types.ContentMeta{MimeType: "application/octet-stream"}
	}
	meta.ContentHash = hash
	meta.FilePath = path
	meta.FileName = hash + ".dat"
	meta.Size = int64(len(data))
	meta.LastAccess = time.Now()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContentCache)
		row, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(hash), row)
	})
}

// GetContent streams the blob and bumps its last-access time.
func (s *BoltStore) GetContent(hash string) ([]byte, *types.ContentMeta, error) {
	meta, err := s.GetContentMeta(hash)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(s.ContentPath(hash))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read content file: %w", err)
	}

	meta.LastAccess = time.Now()
	err = s.db.Update(func(tx *bolt.Tx) error {
		row, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketContentCache).Put([]byte(hash), row)
	})
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}

func (s *BoltStore) GetContentMeta(hash string) (*types.ContentMeta, error) {
	var meta types.ContentMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContentCache).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("content not found: %s", hash)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *BoltStore) ListContent() ([]*types.ContentMeta, error) {
	var metas []*types.ContentMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContentCache).ForEach(func(k, v []byte) error {
			var meta types.ContentMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			metas = append(metas, &meta)
			return nil
		})
	})
	return metas, err
}

// VerifyContent recomputes the blob's SHA-256 against its row key and,
// when a signature row is present, re-checks the author signature over
// the framed payload.
func (s *BoltStore) VerifyContent(hash string) (*VerifyReport, error) {
	meta, err := s.GetContentMeta(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.ContentPath(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}

	report := &VerifyReport{
		Meta:        meta,
		Size:        int64(len(data)),
		IntegrityOK: blob.ContentHash(data) == hash,
	}

	if meta.Signature != "" && meta.PublicKey != "" {
		report.SignatureOK = verifySignature(data, meta.Signature, meta.PublicKey) == nil
	}
	return report, nil
}

func verifySignature(framed []byte, sigB64, pubKeyB64 string) error {
	_, _, payload, err := blob.ParseFrame(framed)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	pemBytes, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return fmt.Errorf("failed to decode public key: %w", err)
	}
	pub, err := keys.ParsePublicKeyPEM(pemBytes)
	if err != nil {
		return err
	}
	return keys.Verify(pub, payload, sig)
}

// LocalFiles lists the blobs on disk for sync_client_files.
func (s *BoltStore) LocalFiles() ([]types.SyncFile, error) {
	entries, err := os.ReadDir(s.contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}
	var files []types.SyncFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".dat") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, types.SyncFile{
			ContentHash: strings.TrimSuffix(name, ".dat"),
			FileName:    name,
			FileSize:    info.Size(),
		})
	}
	return files, nil
}

// DiskUsage walks the data directory and sums file sizes.
func (s *BoltStore) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk data directory: %w", err)
	}
	return total, nil
}

// Known server operations

func (s *BoltStore) UpsertServer(server *types.KnownServer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKnownServers)
		data, err := json.Marshal(server)
		if err != nil {
			return err
		}
		return b.Put([]byte(server.Address), data)
	})
}

func (s *BoltStore) ListServers() ([]*types.KnownServer, error) {
	var servers []*types.KnownServer
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKnownServers).ForEach(func(k, v []byte) error {
			var srv types.KnownServer
			if err := json.Unmarshal(v, &srv); err != nil {
				return err
			}
			if srv.Active {
				servers = append(servers, &srv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Address < servers[j].Address })
	return servers, nil
}

func (s *BoltStore) RemoveServer(address string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKnownServers).Delete([]byte(address))
	})
}

// Network node operations

func (s *BoltStore) UpsertNode(node *types.NetworkNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetworkNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.NodeID), data)
	})
}

// ListNodes returns up to limit nodes ordered by most recently seen.
func (s *BoltStore) ListNodes(limit int) ([]*types.NetworkNode, error) {
	var nodes []*types.NetworkNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworkNodes).ForEach(func(k, v []byte) error {
			var node types.NetworkNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].LastSeen.After(nodes[j].LastSeen) })
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

// DNS record operations

func (s *BoltStore) PutDNSRecord(rec *types.DNSRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDNSRecords)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.Domain), data)
	})
}

func (s *BoltStore) GetDNSRecord(domain string) (*types.DNSRecord, error) {
	var rec types.DNSRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDNSRecords).Get([]byte(domain))
		if data == nil {
			return fmt.Errorf("dns record not found: %s", domain)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Report operations

func reportKey(reporter, contentHash string) []byte {
	sum := sha256.Sum256([]byte(reporter + "\x00" + contentHash))
	return []byte(hex.EncodeToString(sum[:]))
}

func (s *BoltStore) HasReport(reporter, contentHash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketReports).Get(reportKey(reporter, contentHash)) != nil
		return nil
	})
	return found, err
}

// AddReport records a report. The bucket key derives from (reporter,
// content hash), so a duplicate report fails rather than inserting a
// second row.
func (s *BoltStore) AddReport(rep *types.Report) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		key := reportKey(rep.Reporter, rep.ContentHash)
		if b.Get(key) != nil {
			return fmt.Errorf("content already reported: %w", types.ErrInvalidArgument)
		}
		data, err := json.Marshal(rep)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// History operations

func (s *BoltStore) AppendHistory(command string, success bool, result string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := types.HistoryEntry{
			ID:        id,
			Command:   command,
			Timestamp: time.Now(),
			Success:   success,
			Result:    result,
		}
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return b.Put(key, data)
	})
}

// ListHistory returns the newest limit entries, most recent first.
func (s *BoltStore) ListHistory(limit int) ([]*types.HistoryEntry, error) {
	var entries []*types.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry types.HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			if limit > 0 && len(entries) >= limit {
				return nil
			}
		}
		return nil
	})
	return entries, err
}

// Session value operations

type sessionRow struct {
	Value   string    `json:"value"`
	Updated time.Time `json:"updated"`
}

func (s *BoltStore) SetSessionValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&sessionRow{Value: value, Updated: time.Now()})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSession).Put([]byte(key), data)
	})
}

// GetSessionValue returns the stored value, or "" when absent.
func (s *BoltStore) GetSessionValue(key string) (string, error) {
	var row sessionRow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSession).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &row)
	})
	return row.Value, err
}

// Stats operations

type statRow struct {
	Value   int64     `json:"value"`
	Updated time.Time `json:"updated"`
}

func (s *BoltStore) LoadStats() (map[types.StatKey]int64, error) {
	stats := make(map[types.StatKey]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStats).ForEach(func(k, v []byte) error {
			var row statRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			stats[types.StatKey(k)] = row.Value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *BoltStore) SaveStats(stats map[types.StatKey]int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)
		now := time.Now()
		for key, value := range stats {
			data, err := json.Marshal(&statRow{Value: value, Updated: now})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}
