// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package credential manages the ssh keys Fleetmaster uses to reach hosts.
//
// Layout under the data root:
//
//	ssh/global/id_rsa   fallback key used when a request carries none
//	ssh/keys/id_<ip>    committed per-host keys
//	ssh/tmp/id_<ip>     staged per-host keys awaiting a successful probe
//
// A per-host key only moves from tmp to keys through ValidateAndCommit, via
// rename, so anything found under keys is complete and known to work.
package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/toeirei/fleetmaster/internal/executor"
	"github.com/toeirei/fleetmaster/internal/logging"
	"github.com/toeirei/fleetmaster/internal/model"
	"golang.org/x/crypto/ssh"
)

// Lifecycle tells whether a credential may be used for deployment.
type Lifecycle int

const (
	// Temporary keys live under ssh/tmp and are only used by the probe.
	Temporary Lifecycle = iota
	// Committed keys are the global key or keys promoted to ssh/keys.
	Committed
)

func (l Lifecycle) String() string {
	if l == Committed {
		return "committed"
	}
	return "temporary"
}

// Credential locates the key used for one host.
type Credential struct {
	IP        netip.Addr
	Scope     model.KeyScope
	Lifecycle Lifecycle
	Path      string
}

// Usable reports whether the credential may be handed to deployment
// commands.
func (c Credential) Usable() bool { return c.Lifecycle == Committed }

// Target returns the executor target for reaching the host with c.
func (c Credential) Target(user string, port uint16) executor.Target {
	return executor.Target{User: user, Host: c.IP.String(), Port: port, KeyPath: c.Path}
}

// Prober runs a zero-effect login against a target.
type Prober interface {
	Probe(ctx context.Context, t executor.Target) error
}

// Store resolves, validates and commits keys under a data root.
type Store struct {
	root   string
	prober Prober
}

// New returns a Store rooted at dataRoot.
func New(dataRoot string, prober Prober) *Store {
	return &Store{root: dataRoot, prober: prober}
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.root, "ssh", name)
}

// GlobalPath is the fallback key location.
func (s *Store) GlobalPath() string { return filepath.Join(s.dir("global"), "id_rsa") }

// TempPath is where a supplied key for ip is staged.
func (s *Store) TempPath(ip netip.Addr) string {
	return filepath.Join(s.dir("tmp"), "id_"+ip.String())
}

// CommittedPath is where a validated key for ip lives.
func (s *Store) CommittedPath(ip netip.Addr) string {
	return filepath.Join(s.dir("keys"), "id_"+ip.String())
}

// InitDirs creates the ssh directory layout with mode 0700.
func (s *Store) InitDirs() error {
	for _, d := range []string{"global", "keys", "tmp"} {
		if err := os.MkdirAll(s.dir(d), 0o700); err != nil {
			return fmt.Errorf("create %s: %w", s.dir(d), err)
		}
	}
	return nil
}

// Resolve stages key for ip when one is supplied and otherwise falls back to
// the global key. A supplied key is parsed before it is written so that a
// malformed key never reaches the probe.
func (s *Store) Resolve(ip netip.Addr, key []byte) (Credential, error) {
	key = bytes.TrimSpace(key)
	if len(key) == 0 {
		path := s.GlobalPath()
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Credential{}, &CredentialError{IP: ip, Msg: "no key supplied and no global key at " + path}
			}
			return Credential{}, &CredentialError{IP: ip, Msg: "stat global key", Err: err}
		}
		return Credential{IP: ip, Scope: model.KeyScopeGlobal, Lifecycle: Committed, Path: path}, nil
	}

	if _, err := ssh.ParsePrivateKey(key); err != nil {
		return Credential{}, &CredentialError{IP: ip, Msg: "invalid private key", Err: err}
	}
	// ssh refuses keys without a trailing newline.
	staged := append(bytes.Clone(key), '\n')

	path := s.TempPath(ip)
	if err := os.WriteFile(path, staged, 0o600); err != nil {
		return Credential{}, &CredentialError{IP: ip, Msg: "stage key", Err: err}
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return Credential{}, &CredentialError{IP: ip, Msg: "stage key", Err: err}
	}
	logging.Debugf("staged key for %s at %s", ip, path)
	return Credential{IP: ip, Scope: model.KeyScopeHost, Lifecycle: Temporary, Path: path}, nil
}

// ValidateAndCommit probes a temporary credential and promotes it on
// success. Committed credentials, including the global key, are returned
// unchanged without a probe. On probe failure the staged key stays in tmp.
func (s *Store) ValidateAndCommit(ctx context.Context, cred Credential, user string, port uint16) (Credential, error) {
	if cred.Lifecycle == Committed {
		return cred, nil
	}

	if err := s.prober.Probe(ctx, cred.Target(user, port)); err != nil {
		logging.Warnf("key probe for %s@%s:%d failed: %v", user, cred.IP, port, err)
		return Credential{}, &ConnectivityError{IP: cred.IP, User: user, Port: port, Err: err}
	}

	dst := s.CommittedPath(cred.IP)
	if err := os.Rename(cred.Path, dst); err != nil {
		return Credential{}, &CredentialError{IP: cred.IP, Msg: "commit key", Err: err}
	}
	logging.Infof("committed key for %s", cred.IP)
	return Credential{IP: cred.IP, Scope: model.KeyScopeHost, Lifecycle: Committed, Path: dst}, nil
}

// ForHost returns the committed credential an enrolled host must be reached
// with. It never returns a staged key.
func (s *Store) ForHost(ip netip.Addr, scope model.KeyScope) (Credential, error) {
	path := s.GlobalPath()
	if scope == model.KeyScopeHost {
		path = s.CommittedPath(ip)
	}
	if _, err := os.Stat(path); err != nil {
		return Credential{}, &CredentialError{IP: ip, Msg: "committed key missing", Err: err}
	}
	return Credential{IP: ip, Scope: scope, Lifecycle: Committed, Path: path}, nil
}
