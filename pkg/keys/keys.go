package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keySize        = 4096
	privateKeyFile = "private_key.pem"
	publicKeyFile  = "public_key.pem"
)

// pssOpts is the only signature scheme accepted anywhere in the client:
// RSA-PSS with MGF1-SHA256 and maximum salt length.
var pssOpts = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

// KeyStore holds the install's long-lived RSA-4096 identity key pair.
// The private key is persisted as unencrypted PKCS#8 PEM; this is a
// known weakness of the HPS protocol, kept for compatibility.
type KeyStore struct {
	dir     string
	private *rsa.PrivateKey
	pubPEM  []byte
}

// Open loads the key pair from dir, generating and persisting a fresh
// pair if either file is missing.
func Open(dir string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	ks := &KeyStore{dir: dir}

	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)
	if fileExists(privPath) && fileExists(pubPath) {
		if err := ks.load(); err == nil {
			return ks, nil
		}
		// Unreadable keys fall through to regeneration, matching the
		// first-launch path.
	}

	if err := ks.Generate(); err != nil {
		return nil, err
	}
	return ks, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (k *KeyStore) load() error {
	privData, err := os.ReadFile(filepath.Join(k.dir, privateKeyFile))
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	block, _ := pem.Decode(privData)
	if block == nil {
		return fmt.Errorf("failed to decode private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}

	pubData, err := os.ReadFile(filepath.Join(k.dir, publicKeyFile))
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	k.private = priv
	k.pubPEM = pubData
	return nil
}

// Generate creates a new RSA-4096 pair and persists both halves.
func (k *KeyStore) Generate() error {
	priv, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}
	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}

	k.private = priv
	k.pubPEM = pubPEM
	return k.save()
}

func (k *KeyStore) save() error {
	privDER, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	if err := os.WriteFile(filepath.Join(k.dir, privateKeyFile), privPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(k.dir, publicKeyFile), k.pubPEM, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// Export writes the private key PEM to path.
func (k *KeyStore) Export(path string) error {
	privDER, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(path, privPEM, 0600); err != nil {
		return fmt.Errorf("failed to export private key: %w", err)
	}
	return nil
}

// Import replaces the key pair with the private key read from path and
// persists the result.
func (k *KeyStore) Import(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("failed to decode private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}
	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}

	k.private = priv
	k.pubPEM = pubPEM
	return k.save()
}

// Sign signs data with RSA-PSS (MGF1-SHA256, max salt).
func (k *KeyStore) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, k.private, crypto.SHA256, digest[:], pssOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// PublicPEM returns the SubjectPublicKeyInfo PEM of the public key.
func (k *KeyStore) PublicPEM() []byte {
	return k.pubPEM
}

// Verify checks an RSA-PSS signature over data.
func Verify(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOpts); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// ParsePublicKeyPEM parses a SubjectPublicKeyInfo PEM into an RSA key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return pub, nil
}

// MarshalPublicKeyPEM encodes an RSA public key as SubjectPublicKeyInfo PEM.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
