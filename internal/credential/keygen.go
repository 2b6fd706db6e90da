// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrGlobalKeyExists is returned by GenerateGlobal when a key is present and
// overwrite was not requested.
var ErrGlobalKeyExists = errors.New("global key already exists")

// GenerateKeyPair creates an ed25519 key pair and returns the public key in
// authorized_keys format and the private key as OpenSSH PEM.
func GenerateKeyPair(comment string) (publicKey string, privateKey []byte, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	publicKey = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	if comment != "" {
		publicKey += " " + comment
	}

	block, err := ssh.MarshalPrivateKey(privKey, comment)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return publicKey, pem.EncodeToMemory(block), nil
}

// GenerateGlobal writes a fresh fallback key to GlobalPath and its public half
// next to it. The public key is returned so the operator can install it on
// hosts that will be enrolled without a key of their own.
func (s *Store) GenerateGlobal(comment string, overwrite bool) (string, error) {
	path := s.GlobalPath()
	if _, err := os.Stat(path); err == nil && !overwrite {
		return "", ErrGlobalKeyExists
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	pub, priv, err := GenerateKeyPair(comment)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path+".tmp", priv, 0o600); err != nil {
		return "", fmt.Errorf("write global key: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return "", fmt.Errorf("write global key: %w", err)
	}
	if err := os.WriteFile(path+".pub", []byte(pub+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write global public key: %w", err)
	}
	return pub, nil
}
