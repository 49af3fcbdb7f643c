package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/blob"
	"github.com/hsyst/hps-cli/pkg/config"
	"github.com/hsyst/hps-cli/pkg/keys"
	"github.com/hsyst/hps-cli/pkg/metrics"
	"github.com/hsyst/hps-cli/pkg/pow"
	"github.com/hsyst/hps-cli/pkg/reactor"
	"github.com/hsyst/hps-cli/pkg/session"
	"github.com/hsyst/hps-cli/pkg/storage"
	"github.com/hsyst/hps-cli/pkg/transport"
	"github.com/hsyst/hps-cli/pkg/types"
)

// minReportReputation is the reputation floor for sending abuse reports.
const minReportReputation = 20

// ConnectionState is a point-in-time snapshot of the session.
type ConnectionState struct {
	Connected  bool
	Server     string
	User       string
	Reputation int
	NodeID     string
}

// Core owns every moving part of the client: identity keys, local
// store, transport, miner and reactor. All command verbs funnel
// through it.
type Core struct {
	cfg   *config.Config
	log   zerolog.Logger
	keys  *keys.KeyStore
	store storage.Store
	sess  *session.Session
	conn  *transport.Conn
	miner *pow.Miner
	react *reactor.Reactor

	statsMu sync.Mutex
	stats   map[types.StatKey]int64
}

// New assembles a Core rooted at cfg.DataDir and restores any
// persisted session snapshot.
func New(cfg *config.Config, logger zerolog.Logger, progress pow.ProgressFunc) (*Core, error) {
	ks, err := keys.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	st, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:   cfg,
		log:   logger,
		keys:  ks,
		store: st,
		sess:  session.New(ks),
		miner: pow.NewMiner(logger, progress),
	}

	c.conn = transport.New(transport.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		AutoReconnect:      cfg.AutoReconnect,
		ReconnectAttempts:  cfg.ReconnectAttempts,
		Logger:             logger,
	})
	c.react = reactor.New(reactor.Config{
		Emitter:   c.conn,
		Session:   c.sess,
		Miner:     c.miner,
		Logger:    logger,
		PowSolved: c.onPowSolved,
	})
	c.react.Register(func(event string, h func(json.RawMessage)) {
		c.conn.On(event, transport.Handler(h))
	})
	c.conn.OnConnect(c.onConnect)
	c.conn.OnDisconnect(func() {
		c.log.Warn().Msg("connection to server lost")
	})

	if err := c.loadStats(); err != nil {
		return nil, err
	}
	c.bumpStat(types.StatSessionStart, time.Now().Unix()-c.statValue(types.StatSessionStart))
	c.restoreSession()
	return c, nil
}

func (c *Core) onConnect() {
	c.react.OnConnected()
}

func (c *Core) restoreSession() {
	user, _ := c.store.GetSessionValue(types.SessionKeyCurrentUser)
	server, _ := c.store.GetSessionValue(types.SessionKeyCurrentServer)
	repStr, _ := c.store.GetSessionValue(types.SessionKeyReputation)
	rep := 0
	fmt.Sscanf(repStr, "%d", &rep)
	if user != "" || server != "" {
		c.sess.Restore(user, server, rep)
	}
}

// State snapshots the connection and session.
func (c *Core) State() ConnectionState {
	return ConnectionState{
		Connected:  c.conn.Connected(),
		Server:     c.sess.CurrentServer(),
		User:       c.sess.CurrentUser(),
		Reputation: c.sess.Reputation(),
		NodeID:     c.sess.NodeID,
	}
}

// Store exposes the local state for read-mostly verbs (history,
// servers, security).
func (c *Core) Store() storage.Store {
	return c.store
}

// Keys exposes the identity key store for export and import.
func (c *Core) Keys() *keys.KeyStore {
	return c.keys
}

// Login connects to server and runs the full gated authentication
// flow: mutual handshake, login PoW, authenticate, join, sync.
func (c *Core) Login(ctx context.Context, server, username, password string) (*types.AuthenticationResult, error) {
	if banned, until, reason := c.sess.Banned(); banned {
		return nil, &types.BannedError{Until: until, Reason: reason}
	}

	c.sess.SetCredentials(server, username, password)

	wait, err := c.react.ArmLogin(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Connect(server); err != nil {
		c.react.AbortLogin(err)
		wait()
		return nil, err
	}

	res, err := wait()
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &types.ServerError{Message: res.Error}
	}

	c.persistSession()
	c.store.UpsertServer(&types.KnownServer{
		Address:       server,
		Reputation:    res.Reputation,
		LastConnected: time.Now(),
		Active:        true,
		UseTLS:        isTLS(server),
	})
	if err := c.SyncFiles(); err != nil {
		c.log.Warn().Err(err).Msg("failed to advertise local cache")
	}
	c.log.Info().Str("user", res.Username).Int("reputation", res.Reputation).Msg("logged in")
	return res, nil
}

func isTLS(server string) bool {
	_, secure, err := transport.ServerURL(server)
	return err == nil && secure
}

func (c *Core) persistSession() {
	c.store.SetSessionValue(types.SessionKeyCurrentUser, c.sess.CurrentUser())
	c.store.SetSessionValue(types.SessionKeyCurrentServer, c.sess.CurrentServer())
	c.store.SetSessionValue(types.SessionKeyReputation, fmt.Sprintf("%d", c.sess.Reputation()))
}

// Logout drops the connection and clears the authenticated state, in
// memory and on disk.
func (c *Core) Logout() error {
	err := c.conn.Close()
	c.sess.Logout()
	c.store.SetSessionValue(types.SessionKeyCurrentUser, "")
	c.store.SetSessionValue(types.SessionKeyReputation, "")
	c.log.Info().Msg("logged out")
	return err
}

// requireLogin gates verbs that need an authenticated session.
func (c *Core) requireLogin() error {
	if !c.sess.LoggedIn() {
		return fmt.Errorf("not logged in: %w", types.ErrInvalidArgument)
	}
	if !c.conn.Connected() {
		return types.ErrNotConnected
	}
	return nil
}

// Upload frames, signs and publishes the file at path. The raw file is
// capped at the configured upload limit; exceeding the disk quota only
// warns.
func (c *Core) Upload(ctx context.Context, path, title, description, mimeType string) (*types.PublishResult, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > c.cfg.MaxUploadSize {
		return nil, fmt.Errorf("file exceeds %d byte upload limit: %w", c.cfg.MaxUploadSize, types.ErrInvalidArgument)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if usage, err := c.store.DiskUsage(); err == nil && usage+info.Size() > c.cfg.DiskQuota {
		c.log.Warn().Int64("usage", usage).Int64("quota", c.cfg.DiskQuota).Msg("local cache exceeds disk quota")
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}
	if title == "" {
		title = filepath.Base(path)
	}

	username := c.sess.CurrentUser()
	framed := blob.Frame(username, c.keys.PublicPEM(), data)
	hash := blob.ContentHash(framed)

	sig, err := c.keys.Sign(data)
	if err != nil {
		return nil, err
	}
	sigB64 := base64.StdEncoding.EncodeToString(sig)
	pubB64 := base64.StdEncoding.EncodeToString(c.keys.PublicPEM())

	meta := &types.ContentMeta{
		ContentHash: hash,
		FileName:    filepath.Base(path),
		MimeType:    mimeType,
		Size:        int64(len(framed)),
		LastAccess:  time.Now(),
		Title:       title,
		Description: description,
		Username:    username,
		Signature:   sigB64,
		PublicKey:   pubB64,
		Verified:    true,
	}
	if err := c.store.PutContent(hash, framed, meta); err != nil {
		return nil, err
	}

	raw, err := c.react.CallGated(ctx, types.ActionUpload, types.EvPublishResult,
		func(nonce string, hashrate float64) (string, any, error) {
			return types.EvPublishContent, &types.PublishContentRequest{
				ContentHash:      hash,
				Title:            title,
				Description:      description,
				MimeType:         mimeType,
				Size:             int64(len(framed)),
				Signature:        sigB64,
				PublicKey:        pubB64,
				ContentB64:       base64.StdEncoding.EncodeToString(framed),
				PowNonce:         nonce,
				HashrateObserved: hashrate,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	var res types.PublishResult
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &types.ServerError{Message: res.Error}
	}

	c.bumpStat(types.StatContentUploaded, 1)
	c.bumpStat(types.StatDataSent, int64(len(framed)))
	metrics.ContentUploaded.Inc()
	metrics.DataSentBytes.Add(float64(len(framed)))
	c.log.Info().Str("hash", hash).Int64("size", info.Size()).Msg("content published")
	return &res, nil
}

// Download fetches a blob by content hash, serving from the local
// cache when possible. The returned bytes are the raw payload with the
// author frame stripped. A hash mismatch returns the bytes alongside
// an IntegrityError; the mismatched blob is never cached.
func (c *Core) Download(ctx context.Context, hash string) ([]byte, *types.ContentMeta, error) {
	// The cache is deliberately served before the login gate: blobs
	// already on disk were verified when stored, and remain readable
	// while offline. Only the network fetch requires a session.
	if framed, meta, err := c.store.GetContent(hash); err == nil {
		_, _, payload, perr := blob.ParseFrame(framed)
		if perr == nil {
			c.log.Debug().Str("hash", hash).Msg("served from local cache")
			return payload, meta, nil
		}
	}

	if err := c.requireLogin(); err != nil {
		return nil, nil, err
	}

	raw, err := c.react.Call(ctx, types.EvRequestContent,
		&types.RequestContentRequest{ContentHash: hash}, types.EvContentResponse)
	if err != nil {
		return nil, nil, err
	}

	var res types.ContentResponse
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, nil, err
	}
	if res.Error != "" {
		return nil, nil, &types.ServerError{Message: res.Error}
	}

	framed, err := base64.StdEncoding.DecodeString(res.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode content: %w", err)
	}

	c.bumpStat(types.StatDataReceived, int64(len(framed)))
	metrics.DataReceivedBytes.Add(float64(len(framed)))

	actual := blob.ContentHash(framed)
	username, pubPEM, payload, perr := blob.ParseFrame(framed)

	meta := &types.ContentMeta{
		ContentHash: hash,
		FileName:    res.Title,
		MimeType:    res.MimeType,
		Size:        int64(len(framed)),
		LastAccess:  time.Now(),
		Title:       res.Title,
		Description: res.Description,
		Username:    res.Username,
		Signature:   res.Signature,
		PublicKey:   res.PublicKey,
	}

	if actual != hash {
		return payload, meta, &types.IntegrityError{Expected: hash, Actual: actual}
	}
	if perr != nil {
		return nil, nil, fmt.Errorf("malformed content frame: %w", perr)
	}

	meta.Verified = c.verifyAuthor(username, pubPEM, payload, res.Signature)
	if !meta.Verified {
		c.log.Warn().Str("hash", hash).Str("user", username).Msg("author signature did not verify")
	}

	if err := c.store.PutContent(hash, framed, meta); err != nil {
		c.log.Warn().Err(err).Str("hash", hash).Msg("failed to cache content")
	}
	c.bumpStat(types.StatContentDownloaded, 1)
	metrics.ContentDownloaded.Inc()
	return payload, meta, nil
}

func (c *Core) verifyAuthor(username string, pubPEM, payload []byte, sigB64 string) bool {
	pub, err := keys.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return keys.Verify(pub, payload, sig) == nil
}

// SaveDownload writes payload under the output directory, deriving a
// file name from the metadata when name is empty.
func (c *Core) SaveDownload(payload []byte, meta *types.ContentMeta, name string) (string, error) {
	if name == "" {
		name = meta.FileName
		if name == "" {
			name = meta.ContentHash
		}
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(c.cfg.OutputDir, filepath.Base(name))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// RegisterDNS binds domain to contentHash through a signed name record.
func (c *Core) RegisterDNS(ctx context.Context, domain, contentHash string) (*types.DNSResult, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	if !blob.ValidDomain(domain) {
		return nil, fmt.Errorf("invalid domain %q: %w", domain, types.ErrInvalidArgument)
	}

	username := c.sess.CurrentUser()
	doc := blob.DDNSDocument(username, c.keys.PublicPEM(), domain, contentHash)
	sig, err := c.keys.Sign(doc)
	if err != nil {
		return nil, err
	}

	raw, err := c.react.CallGated(ctx, types.ActionDNS, types.EvDNSResult,
		func(nonce string, hashrate float64) (string, any, error) {
			return types.EvRegisterDNS, &types.RegisterDNSRequest{
				Domain:           domain,
				DDNSContent:      base64.StdEncoding.EncodeToString(doc),
				Signature:        base64.StdEncoding.EncodeToString(sig),
				PublicKey:        base64.StdEncoding.EncodeToString(c.keys.PublicPEM()),
				PowNonce:         nonce,
				HashrateObserved: hashrate,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	var res types.DNSResult
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &types.ServerError{Message: res.Error}
	}

	c.store.PutDNSRecord(&types.DNSRecord{
		Domain:      domain,
		ContentHash: contentHash,
		Username:    username,
		Verified:    true,
		Timestamp:   time.Now(),
		DDNSHash:    blob.ContentHash(doc),
	})
	c.bumpStat(types.StatDNSRegistered, 1)
	metrics.DNSRegistered.Inc()
	c.log.Info().Str("domain", domain).Str("hash", contentHash).Msg("name registered")
	return &res, nil
}

// ResolveDNS resolves a registered name, caching successful answers.
func (c *Core) ResolveDNS(ctx context.Context, domain string) (*types.DNSResolution, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}

	raw, err := c.react.Call(ctx, types.EvResolveDNS,
		&types.ResolveDNSRequest{Domain: domain}, types.EvDNSResolution)
	if err != nil {
		return nil, err
	}

	var res types.DNSResolution
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &types.ServerError{Message: res.Error}
	}

	c.store.PutDNSRecord(&types.DNSRecord{
		Domain:      res.Domain,
		ContentHash: res.ContentHash,
		Username:    res.Username,
		Verified:    res.Verified,
		Timestamp:   time.Now(),
	})
	return &res, nil
}

// Search queries the server catalog.
func (c *Core) Search(ctx context.Context, query string, limit int, contentType, sortBy string) ([]types.SearchResult, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	raw, err := c.react.Call(ctx, types.EvSearchContent, &types.SearchContentRequest{
		Query:       query,
		Limit:       limit,
		ContentType: contentType,
		SortBy:      sortBy,
	}, types.EvSearchResults)
	if err != nil {
		return nil, err
	}

	var res types.SearchResults
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, &types.ServerError{Message: res.Error}
	}
	return res.Results, nil
}

// NetworkState fetches the server's network snapshot and refreshes the
// local peer table.
func (c *Core) NetworkState(ctx context.Context) (*types.NetworkStateResponse, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}

	raw, err := c.react.Call(ctx, types.EvGetNetworkState,
		&types.GetNetworkStateRequest{}, types.EvNetworkState)
	if err != nil {
		return nil, err
	}

	var res types.NetworkStateResponse
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, &types.ServerError{Message: res.Error}
	}

	for _, n := range res.Nodes {
		c.store.UpsertNode(&types.NetworkNode{
			NodeID:     n.NodeID,
			Address:    n.Address,
			NodeType:   n.NodeType,
			Reputation: n.Reputation,
			Status:     n.Status,
			LastSeen:   time.Unix(int64(n.LastSeen), 0),
		})
	}
	return &res, nil
}

// Report flags contentHash as abusive. Preconditions are checked
// locally before the gated round trip: a minimum reputation, no
// self-reports, and at most one report per blob per reporter.
func (c *Core) Report(ctx context.Context, contentHash, reportedUser string) (*types.ReportResult, error) {
	if err := c.requireLogin(); err != nil {
		return nil, err
	}
	reporter := c.sess.CurrentUser()
	if c.sess.Reputation() < minReportReputation {
		return nil, fmt.Errorf("reputation below %d: %w", minReportReputation, types.ErrInvalidArgument)
	}
	if reportedUser == reporter {
		return nil, fmt.Errorf("cannot report own content: %w", types.ErrInvalidArgument)
	}
	if dup, err := c.store.HasReport(reporter, contentHash); err != nil {
		return nil, err
	} else if dup {
		return nil, fmt.Errorf("content already reported: %w", types.ErrInvalidArgument)
	}

	raw, err := c.react.CallGated(ctx, types.ActionReport, types.EvReportResult,
		func(nonce string, hashrate float64) (string, any, error) {
			return types.EvReportContent, &types.ReportContentRequest{
				ContentHash:      contentHash,
				ReportedUser:     reportedUser,
				Reporter:         reporter,
				PowNonce:         nonce,
				HashrateObserved: hashrate,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	var res types.ReportResult
	if err := unmarshalResult(raw, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &types.ServerError{Message: res.Error}
	}

	if err := c.store.AddReport(&types.Report{
		ContentHash:  contentHash,
		ReportedUser: reportedUser,
		Reporter:     reporter,
		Timestamp:    time.Now(),
		Status:       "sent",
	}); err != nil {
		c.log.Warn().Err(err).Msg("failed to record report locally")
	}
	c.bumpStat(types.StatContentReported, 1)
	metrics.ContentReported.Inc()
	return &res, nil
}

// SyncFiles advertises the local content cache to the server.
func (c *Core) SyncFiles() error {
	if !c.conn.Connected() {
		return types.ErrNotConnected
	}
	files, err := c.store.LocalFiles()
	if err != nil {
		return err
	}
	if err := c.conn.Emit(types.EvSyncClientFiles, &types.SyncClientFilesRequest{Files: files}); err != nil {
		return err
	}
	c.log.Debug().Int("files", len(files)).Msg("local cache advertised")
	return nil
}

// Verify re-checks one cached blob, or every cached blob when hash is
// empty.
func (c *Core) Verify(hash string) ([]*storage.VerifyReport, error) {
	if hash != "" {
		rep, err := c.store.VerifyContent(hash)
		if err != nil {
			return nil, err
		}
		c.bumpStat(types.StatHashesCalculated, 1)
		return []*storage.VerifyReport{rep}, nil
	}

	metas, err := c.store.ListContent()
	if err != nil {
		return nil, err
	}
	reports := make([]*storage.VerifyReport, 0, len(metas))
	for _, m := range metas {
		rep, err := c.store.VerifyContent(m.ContentHash)
		if err != nil {
			c.log.Warn().Err(err).Str("hash", m.ContentHash).Msg("verification failed")
			continue
		}
		reports = append(reports, rep)
	}
	c.bumpStat(types.StatHashesCalculated, int64(len(reports)))
	return reports, nil
}

func (c *Core) onPowSolved(action types.ActionType, res *pow.Result) {
	c.bumpStat(types.StatPowSolved, 1)
	c.bumpStat(types.StatPowTime, int64(res.Elapsed.Seconds()))
	c.bumpStat(types.StatHashesCalculated, int64(res.Hashes))
	c.log.Debug().Str("action", string(action)).Uint64("nonce", res.Nonce).Msg("proof of work accepted")
}

func (c *Core) loadStats() error {
	stats, err := c.store.LoadStats()
	if err != nil {
		return err
	}
	c.statsMu.Lock()
	c.stats = stats
	c.statsMu.Unlock()
	return nil
}

func (c *Core) statValue(key types.StatKey) int64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats[key]
}

func (c *Core) bumpStat(key types.StatKey, delta int64) {
	c.statsMu.Lock()
	c.stats[key] += delta
	snapshot := make(map[types.StatKey]int64, len(c.stats))
	for k, v := range c.stats {
		snapshot[k] = v
	}
	c.statsMu.Unlock()

	if err := c.store.SaveStats(snapshot); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist stats")
	}
}

// Stats returns a copy of the durable counters.
func (c *Core) Stats() map[types.StatKey]int64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := make(map[types.StatKey]int64, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}

// Close flushes state and releases the transport and the store.
func (c *Core) Close() error {
	c.conn.Close()
	return c.store.Close()
}

func unmarshalResult(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("malformed server response: %w", err)
	}
	return nil
}
