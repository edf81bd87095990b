package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyManager handles the SSH key pair injected into provisioned guests.
type KeyManager struct {
	dir string
}

// NewKeyManager creates a key manager storing keys under dir.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// PrivateKeyPath returns the path to the private key.
func (k *KeyManager) PrivateKeyPath() string {
	return filepath.Join(k.dir, "id_ed25519")
}

// PublicKeyPath returns the path to the public key.
func (k *KeyManager) PublicKeyPath() string {
	return filepath.Join(k.dir, "id_ed25519.pub")
}

// EnsureKeyPair generates an ed25519 key pair if one does not already
// exist, and returns the authorized_keys line for the public key.
func (k *KeyManager) EnsureKeyPair() (string, error) {
	if _, err := os.Stat(k.PrivateKeyPath()); err == nil {
		return k.AuthorizedKey()
	}

	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key pair: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(k.PrivateKeyPath(), pem.EncodeToMemory(block), 0600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("convert public key: %w", err)
	}
	authorized := ssh.MarshalAuthorizedKey(sshPub)
	if err := os.WriteFile(k.PublicKeyPath(), authorized, 0644); err != nil {
		return "", fmt.Errorf("write public key: %w", err)
	}

	return string(authorized), nil
}

// AuthorizedKey returns the authorized_keys line for the stored public key.
func (k *KeyManager) AuthorizedKey() (string, error) {
	data, err := os.ReadFile(k.PublicKeyPath())
	if err != nil {
		return "", fmt.Errorf("read public key: %w", err)
	}
	return string(data), nil
}

// Signer loads the private key as an SSH signer.
func (k *KeyManager) Signer() (ssh.Signer, error) {
	data, err := os.ReadFile(k.PrivateKeyPath())
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
