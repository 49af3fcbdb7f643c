package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Frame markers. The header is a single run of bytes with no separators
// between markers; the wire and on-disk forms are identical.
const (
	markerService  = "# HSYST P2P SERVICE"
	markerStart    = "### START:"
	markerUser     = "# USER: "
	markerKey      = "# KEY: "
	markerEndStart = "### :END START"
)

var domainPattern = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)*$`)

// Frame prefixes payload with the author header. The content hash of a
// blob covers this entire framed form.
func Frame(username string, publicKeyPEM, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(markerService)
	buf.WriteString(markerStart)
	buf.WriteString(markerUser)
	buf.WriteString(username)
	buf.WriteString(markerKey)
	buf.WriteString(base64.StdEncoding.EncodeToString(publicKeyPEM))
	buf.WriteString(markerEndStart)
	buf.Write(payload)
	return buf.Bytes()
}

// ParseFrame splits a framed blob back into author username, public key
// PEM and raw payload. The author signature covers only the payload, so
// verification needs this parse.
func ParseFrame(framed []byte) (username string, publicKeyPEM, payload []byte, err error) {
	end := bytes.Index(framed, []byte(markerEndStart))
	if end < 0 {
		return "", nil, nil, fmt.Errorf("missing frame end marker")
	}
	header := framed[:end]
	payload = framed[end+len(markerEndStart):]

	userIdx := bytes.Index(header, []byte(markerUser))
	keyIdx := bytes.Index(header, []byte(markerKey))
	if userIdx < 0 || keyIdx < 0 || keyIdx < userIdx {
		return "", nil, nil, fmt.Errorf("malformed frame header")
	}

	username = string(header[userIdx+len(markerUser) : keyIdx])
	keyB64 := string(header[keyIdx+len(markerKey):])
	publicKeyPEM, err = base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to decode frame public key: %w", err)
	}
	return username, publicKeyPEM, payload, nil
}

// ContentHash returns the lowercase hex SHA-256 of data. For framed
// blobs the hash covers header and payload together.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DDNSDocument builds the signed name-record document binding domain to
// contentHash. The byte layout, indentation included, is fixed by the
// protocol; changing it changes every ddns hash.
func DDNSDocument(username string, publicKeyPEM []byte, domain, contentHash string) []byte {
	doc := "# HSYST P2P SERVICE\n" +
		"### START:\n" +
		"            # USER: " + username + "\n" +
		"            # KEY: " + base64.StdEncoding.EncodeToString(publicKeyPEM) + "\n" +
		"### :END START\n" +
		"### DNS:\n" +
		"            # DNAME: " + domain + " = " + contentHash + "\n" +
		"### :END DNS\n" +
		"            "
	return []byte(doc)
}

// ValidDomain reports whether domain is a registrable name: lowercase
// letters, digits and hyphens, dot-separated.
func ValidDomain(domain string) bool {
	return domainPattern.MatchString(domain)
}

// URLKind classifies an hps:// URL.
type URLKind int

const (
	URLHash URLKind = iota
	URLDomain
	URLNetwork
)

// URL is a parsed hps:// reference.
type URL struct {
	Kind  URLKind
	Value string
}

// ParseURL interprets download targets. Bare strings are content
// hashes; hps://rede shows the network, hps://dns:<name> resolves a
// name, hps://<hash> downloads by hash.
func ParseURL(target string) URL {
	if !strings.HasPrefix(target, "hps://") {
		return URL{Kind: URLHash, Value: target}
	}
	rest := strings.TrimPrefix(target, "hps://")
	switch {
	case rest == "rede":
		return URL{Kind: URLNetwork}
	case strings.HasPrefix(rest, "dns:"):
		return URL{Kind: URLDomain, Value: strings.TrimPrefix(rest, "dns:")}
	default:
		return URL{Kind: URLHash, Value: rest}
	}
}
