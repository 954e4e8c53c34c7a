package testinfra

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair is an SSH client key for key-based login to test containers.
type KeyPair struct {
	PrivateKey    []byte // OpenSSH PEM
	AuthorizedKey []byte // authorized_keys line
}

// GenerateKeyPair creates an unencrypted ed25519 key pair.
func GenerateKeyPair(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("convert public key: %w", err)
	}

	return &KeyPair{
		PrivateKey:    pem.EncodeToMemory(block),
		AuthorizedKey: ssh.MarshalAuthorizedKey(sshPub),
	}, nil
}

// WriteToDir writes the private key as id_ed25519 with owner-only
// permissions and returns its path.
func (k *KeyPair) WriteToDir(dir string) (string, error) {
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, k.PrivateKey, 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
