package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/blob"
	"github.com/hsyst/hps-cli/pkg/client"
	"github.com/hsyst/hps-cli/pkg/display"
	"github.com/hsyst/hps-cli/pkg/types"
)

// ErrExit signals the REPL to terminate.
var ErrExit = errors.New("exit requested")

// Dispatcher parses command lines and routes them to the client core.
// Every invocation, successful or not, lands one history row.
type Dispatcher struct {
	core *client.Core
	out  *display.Printer
	log  zerolog.Logger
}

// New builds a Dispatcher.
func New(core *client.Core, out *display.Printer, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{core: core, out: out, log: logger}
}

// Execute runs one command line. The returned error is ErrExit for the
// exit verb, nil otherwise; command failures are rendered, recorded in
// history and swallowed so one bad verb never kills the session.
func (d *Dispatcher) Execute(ctx context.Context, line string) error {
	args, err := tokenize(line)
	if err != nil {
		d.out.Errorf("%v", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	verb, rest := args[0], args[1:]

	if verb == "exit" || verb == "quit" {
		return ErrExit
	}

	result, err := d.dispatch(ctx, verb, rest)
	if err != nil {
		d.out.Errorf("%s: %v", verb, err)
		d.core.Store().AppendHistory(line, false, err.Error())
		return nil
	}
	if result != "" {
		d.core.Store().AppendHistory(line, true, result)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, verb string, args []string) (string, error) {
	switch verb {
	case "help":
		d.printHelp()
		return "", nil
	case "login":
		return d.cmdLogin(ctx, args)
	case "logout":
		return d.cmdLogout()
	case "upload":
		return d.cmdUpload(ctx, args)
	case "download":
		return d.cmdDownload(ctx, args)
	case "dns-reg":
		return d.cmdDNSReg(ctx, args)
	case "dns-res":
		return d.cmdDNSRes(ctx, args)
	case "search":
		return d.cmdSearch(ctx, args)
	case "report":
		return d.cmdReport(ctx, args)
	case "rede", "network":
		return d.cmdNetwork(ctx)
	case "servers":
		return d.cmdServers(args)
	case "files":
		return d.cmdFiles()
	case "security":
		return d.cmdSecurity(args)
	case "sync":
		return d.cmdSync()
	case "stats":
		return d.cmdStats()
	case "keys":
		return d.cmdKeys(args)
	case "history":
		return d.cmdHistory(args)
	case "clear":
		d.out.Printf("\033[2J\033[H")
		return "", nil
	default:
		return "", fmt.Errorf("unknown command %q, try help: %w", verb, types.ErrInvalidArgument)
	}
}

func (d *Dispatcher) printHelp() {
	d.out.Header("Commands")
	d.out.Table([]string{"VERB", "USAGE"}, [][]string{
		{"login", "login <server> <username> [password]"},
		{"logout", "logout"},
		{"upload", "upload <file> [--title t] [--desc d] [--mime m]"},
		{"download", "download <hash | hps://...> [--output name]"},
		{"dns-reg", "dns-reg <domain> <content-hash>"},
		{"dns-res", "dns-res <domain>"},
		{"search", "search <query> [--limit n] [--type mime] [--sort field]"},
		{"report", "report <content-hash> <username>"},
		{"rede", "show the network state"},
		{"servers", "servers [add <address> | remove <address>]"},
		{"files", "list the local content cache"},
		{"security", "security [content-hash]"},
		{"sync", "re-advertise the local cache"},
		{"stats", "show session statistics"},
		{"keys", "keys show | generate | export <path> | import <path>"},
		{"history", "history [n]"},
		{"clear", "clear the screen"},
		{"exit", "leave the client"},
	})
}

func (d *Dispatcher) cmdLogin(ctx context.Context, args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	if len(pos) < 2 || len(pos) > 3 {
		return "", fmt.Errorf("usage: login <server> <username> [password]: %w", types.ErrInvalidArgument)
	}
	server, username := pos[0], pos[1]

	var password string
	if len(pos) == 3 {
		password = pos[2]
	} else {
		password, err = d.out.PromptSecret("password: ", int(os.Stdin.Fd()))
		if err != nil {
			return "", err
		}
	}

	d.out.Infof("authenticating with %s…", server)
	res, err := d.core.Login(ctx, server, username, password)
	if err != nil {
		return "", err
	}
	d.out.MiningDone()
	d.out.Successf("logged in as %s (reputation %d)", res.Username, res.Reputation)
	return fmt.Sprintf("logged in as %s", res.Username), nil
}

func (d *Dispatcher) cmdLogout() (string, error) {
	if err := d.core.Logout(); err != nil {
		return "", err
	}
	d.out.Successf("logged out")
	return "logged out", nil
}

func (d *Dispatcher) cmdUpload(ctx context.Context, args []string) (string, error) {
	pos, flags, err := splitFlags(args, []string{"title", "desc", "mime"})
	if err != nil {
		return "", err
	}
	if len(pos) != 1 {
		return "", fmt.Errorf("usage: upload <file>: %w", types.ErrInvalidArgument)
	}

	res, err := d.core.Upload(ctx, pos[0], flags["title"], flags["desc"], flags["mime"])
	d.out.MiningDone()
	if err != nil {
		return "", err
	}
	d.out.Successf("published %s", res.ContentHash)
	return "published " + res.ContentHash, nil
}

func (d *Dispatcher) cmdDownload(ctx context.Context, args []string) (string, error) {
	pos, flags, err := splitFlags(args, []string{"output"})
	if err != nil {
		return "", err
	}
	if len(pos) != 1 {
		return "", fmt.Errorf("usage: download <hash | hps://...>: %w", types.ErrInvalidArgument)
	}

	u := blob.ParseURL(pos[0])
	switch u.Kind {
	case blob.URLNetwork:
		return d.cmdNetwork(ctx)
	case blob.URLDomain:
		res, err := d.core.ResolveDNS(ctx, u.Value)
		if err != nil {
			return "", err
		}
		d.out.Infof("%s → %s", res.Domain, res.ContentHash)
		return d.fetch(ctx, res.ContentHash, flags["output"])
	default:
		return d.fetch(ctx, u.Value, flags["output"])
	}
}

func (d *Dispatcher) fetch(ctx context.Context, hash, output string) (string, error) {
	payload, meta, err := d.core.Download(ctx, hash)

	var integrity *types.IntegrityError
	if errors.As(err, &integrity) {
		// The bytes arrived but the hash does not match; surface the
		// mismatch and refuse to write the file.
		d.out.Errorf("integrity check failed: expected %s, got %s", integrity.Expected, integrity.Actual)
		return "", err
	}
	if err != nil {
		return "", err
	}

	path, err := d.core.SaveDownload(payload, meta, output)
	if err != nil {
		return "", err
	}
	verified := "author unverified"
	if meta.Verified {
		verified = "author verified"
	}
	d.out.Successf("saved %s (%s, %s)", path, display.FormatBytes(int64(len(payload))), verified)
	return "downloaded " + hash, nil
}

func (d *Dispatcher) cmdDNSReg(ctx context.Context, args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	if len(pos) != 2 {
		return "", fmt.Errorf("usage: dns-reg <domain> <content-hash>: %w", types.ErrInvalidArgument)
	}

	res, err := d.core.RegisterDNS(ctx, pos[0], pos[1])
	d.out.MiningDone()
	if err != nil {
		return "", err
	}
	d.out.Successf("registered %s", res.Domain)
	return "registered " + res.Domain, nil
}

func (d *Dispatcher) cmdDNSRes(ctx context.Context, args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	if len(pos) != 1 {
		return "", fmt.Errorf("usage: dns-res <domain>: %w", types.ErrInvalidArgument)
	}
	domain := pos[0]

	// Offline resolution falls back to the local cache.
	if !d.core.State().Connected {
		rec, err := d.core.Store().GetDNSRecord(domain)
		if err != nil {
			return "", fmt.Errorf("not connected and %s is not cached locally: %w", domain, types.ErrNotConnected)
		}
		d.out.Warnf("offline: serving cached resolution from %s", rec.Timestamp.Format(time.RFC3339))
		d.out.Infof("%s → %s (by %s)", rec.Domain, rec.ContentHash, rec.Username)
		return "resolved " + domain + " from cache", nil
	}

	res, err := d.core.ResolveDNS(ctx, domain)
	if err != nil {
		return "", err
	}
	verified := ""
	if res.Verified {
		verified = " [verified]"
	}
	d.out.Infof("%s → %s (by %s)%s", res.Domain, res.ContentHash, res.Username, verified)
	return "resolved " + domain, nil
}

func (d *Dispatcher) cmdSearch(ctx context.Context, args []string) (string, error) {
	pos, flags, err := splitFlags(args, []string{"limit", "type", "sort"})
	if err != nil {
		return "", err
	}
	if len(pos) == 0 {
		return "", fmt.Errorf("usage: search <query>: %w", types.ErrInvalidArgument)
	}
	query := strings.Join(pos, " ")

	limit := 20
	if flags["limit"] != "" {
		limit, err = strconv.Atoi(flags["limit"])
		if err != nil || limit <= 0 {
			return "", fmt.Errorf("invalid --limit %q: %w", flags["limit"], types.ErrInvalidArgument)
		}
	}

	results, err := d.core.Search(ctx, query, limit, flags["type"], flags["sort"])
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		d.out.Infof("no results for %q", query)
		return "no results", nil
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		v := ""
		if r.Verified {
			v = "✓"
		}
		rows = append(rows, []string{short(r.ContentHash), r.Title, r.Username, r.MimeType, v, strconv.Itoa(r.Reputation)})
	}
	d.out.Table([]string{"HASH", "TITLE", "USER", "TYPE", "VERIFIED", "REP"}, rows)
	return fmt.Sprintf("%d results", len(results)), nil
}

func (d *Dispatcher) cmdReport(ctx context.Context, args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	if len(pos) != 2 {
		return "", fmt.Errorf("usage: report <content-hash> <username>: %w", types.ErrInvalidArgument)
	}

	_, err = d.core.Report(ctx, pos[0], pos[1])
	d.out.MiningDone()
	if err != nil {
		return "", err
	}
	d.out.Successf("report sent for %s", short(pos[0]))
	return "reported " + pos[0], nil
}

func (d *Dispatcher) cmdNetwork(ctx context.Context) (string, error) {
	res, err := d.core.NetworkState(ctx)
	if err != nil {
		return "", err
	}

	d.out.Header("Network")
	d.out.Printf("online nodes: %d   content: %d   names: %d\n",
		res.OnlineNodes, res.TotalContent, res.TotalDNS)
	if len(res.Nodes) > 0 {
		rows := make([][]string, 0, len(res.Nodes))
		for _, n := range res.Nodes {
			rows = append(rows, []string{short(n.NodeID), n.NodeType, n.Status, strconv.Itoa(n.Reputation)})
		}
		d.out.Table([]string{"NODE", "TYPE", "STATUS", "REP"}, rows)
	}
	return fmt.Sprintf("%d nodes online", res.OnlineNodes), nil
}

func (d *Dispatcher) cmdServers(args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	if len(pos) == 2 {
		address := pos[1]
		switch pos[0] {
		case "add":
			if err := d.core.Store().UpsertServer(&types.KnownServer{
				Address:       address,
				LastConnected: time.Now(),
				Active:        true,
			}); err != nil {
				return "", err
			}
			d.out.Successf("server %s saved", address)
			return "server added " + address, nil
		case "remove":
			if err := d.core.Store().RemoveServer(address); err != nil {
				return "", err
			}
			d.out.Successf("server %s removed", address)
			return "server removed " + address, nil
		}
	}
	if len(pos) != 0 {
		return "", fmt.Errorf("usage: servers [add <address> | remove <address>]: %w", types.ErrInvalidArgument)
	}

	servers, err := d.core.Store().ListServers()
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		d.out.Infof("no known servers")
		return "no known servers", nil
	}

	rows := make([][]string, 0, len(servers))
	for _, s := range servers {
		tls := ""
		if s.UseTLS {
			tls = "tls"
		}
		rows = append(rows, []string{s.Address, strconv.Itoa(s.Reputation), s.LastConnected.Format("2006-01-02 15:04"), tls})
	}
	d.out.Table([]string{"ADDRESS", "REP", "LAST CONNECTED", ""}, rows)
	return fmt.Sprintf("%d servers", len(servers)), nil
}

func (d *Dispatcher) cmdFiles() (string, error) {
	metas, err := d.core.Store().ListContent()
	if err != nil {
		return "", err
	}
	if len(metas) == 0 {
		d.out.Infof("local cache is empty")
		return "cache empty", nil
	}

	var total int64
	rows := make([][]string, 0, len(metas))
	for _, m := range metas {
		total += m.Size
		rows = append(rows, []string{short(m.ContentHash), m.Title, m.Username, display.FormatBytes(m.Size)})
	}
	d.out.Table([]string{"HASH", "TITLE", "USER", "SIZE"}, rows)
	d.out.Printf("%d blobs, %s\n", len(metas), display.FormatBytes(total))
	return fmt.Sprintf("%d blobs", len(metas)), nil
}

func (d *Dispatcher) cmdSecurity(args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	hash := ""
	if len(pos) == 1 {
		hash = pos[0]
	} else if len(pos) > 1 {
		return "", fmt.Errorf("usage: security [content-hash]: %w", types.ErrInvalidArgument)
	}

	reports, err := d.core.Verify(hash)
	if err != nil {
		return "", err
	}

	bad := 0
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		integrity, signature := "ok", "ok"
		if !r.IntegrityOK {
			integrity = "CORRUPT"
			bad++
		}
		if !r.SignatureOK {
			signature = "UNVERIFIED"
		}
		rows = append(rows, []string{short(r.Meta.ContentHash), integrity, signature, display.FormatBytes(r.Size)})
	}
	d.out.Table([]string{"HASH", "INTEGRITY", "SIGNATURE", "SIZE"}, rows)
	if bad > 0 {
		d.out.Errorf("%d blob(s) failed integrity", bad)
	} else {
		d.out.Successf("all %d blob(s) intact", len(reports))
	}
	return fmt.Sprintf("verified %d, %d corrupt", len(reports), bad), nil
}

func (d *Dispatcher) cmdSync() (string, error) {
	if err := d.core.SyncFiles(); err != nil {
		return "", err
	}
	d.out.Successf("local cache advertised")
	return "synced", nil
}

func (d *Dispatcher) cmdStats() (string, error) {
	stats := d.core.Stats()
	rows := make([][]string, 0, len(types.StatKeys))
	for _, key := range types.StatKeys {
		value := strconv.FormatInt(stats[key], 10)
		switch key {
		case types.StatSessionStart:
			if stats[key] > 0 {
				value = time.Unix(stats[key], 0).Format(time.RFC3339)
			}
		case types.StatDataSent, types.StatDataReceived:
			value = display.FormatBytes(stats[key])
		case types.StatPowTime:
			value = (time.Duration(stats[key]) * time.Second).String()
		}
		rows = append(rows, []string{string(key), value})
	}
	d.out.Table([]string{"STAT", "VALUE"}, rows)
	return "stats shown", nil
}

func (d *Dispatcher) cmdKeys(args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	if len(pos) == 1 {
		switch pos[0] {
		case "show":
			d.out.Printf("%s", d.core.Keys().PublicPEM())
			return "public key shown", nil
		case "generate":
			if err := d.core.Keys().Generate(); err != nil {
				return "", err
			}
			d.out.Successf("new identity keypair generated")
			d.out.Warnf("content published under the old key can no longer be re-signed")
			return "keypair regenerated", nil
		}
	}
	if len(pos) != 2 {
		return "", fmt.Errorf("usage: keys show|generate|export <path>|import <path>: %w", types.ErrInvalidArgument)
	}

	switch pos[0] {
	case "export":
		if err := d.core.Keys().Export(pos[1]); err != nil {
			return "", err
		}
		d.out.Successf("private key exported to %s", pos[1])
		d.out.Warnf("the exported key is unencrypted; guard the file")
		return "key exported", nil
	case "import":
		if err := d.core.Keys().Import(pos[1]); err != nil {
			return "", err
		}
		d.out.Successf("private key imported from %s", pos[1])
		return "key imported", nil
	default:
		return "", fmt.Errorf("unknown keys subcommand %q: %w", pos[0], types.ErrInvalidArgument)
	}
}

func (d *Dispatcher) cmdHistory(args []string) (string, error) {
	pos, _, err := splitFlags(args, nil)
	if err != nil {
		return "", err
	}
	limit := 20
	if len(pos) == 1 {
		limit, err = strconv.Atoi(pos[0])
		if err != nil || limit <= 0 {
			return "", fmt.Errorf("usage: history [n]: %w", types.ErrInvalidArgument)
		}
	}

	entries, err := d.core.Store().ListHistory(limit)
	if err != nil {
		return "", err
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		ok := "✓"
		if !e.Success {
			ok = "✗"
		}
		rows = append(rows, []string{e.Timestamp.Format("15:04:05"), ok, e.Command, e.Result})
	}
	d.out.Table([]string{"TIME", "", "COMMAND", "RESULT"}, rows)
	return "", nil
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "…"
	}
	return hash
}

// tokenize splits a command line honoring single and double quotes.
func tokenize(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inToken := false

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote: %w", types.ErrInvalidArgument)
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}

// splitFlags separates positional arguments from --name value flags.
// Only flags in allowed are accepted.
func splitFlags(args, allowed []string) (pos []string, flags map[string]string, err error) {
	flags = make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			pos = append(pos, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		ok := false
		for _, a := range allowed {
			if a == name {
				ok = true
				break
			}
		}
		if !ok {
			return nil, nil, fmt.Errorf("unknown flag --%s: %w", name, types.ErrInvalidArgument)
		}
		if i+1 >= len(args) {
			return nil, nil, fmt.Errorf("flag --%s needs a value: %w", name, types.ErrInvalidArgument)
		}
		i++
		flags[name] = args[i]
	}
	return pos, flags, nil
}
