// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package executor

import (
	"net"
	"strconv"
)

// ConnectTimeoutSeconds bounds the ssh connect phase of every probe.
const ConnectTimeoutSeconds = 5

// Target is a remote endpoint together with the key used to reach it.
type Target struct {
	User    string
	Host    string
	Port    uint16
	KeyPath string
}

// Address returns user@host, bracketing IPv6 literals for scp.
func (t Target) Address() string {
	host := t.Host
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		host = "[" + host + "]"
	}
	return t.User + "@" + host
}

func (t Target) port() string {
	return strconv.Itoa(int(t.Port))
}

// SSH runs remoteCmd on the target.
func SSH(t Target, remoteCmd string) Command {
	return Command{
		Program: "ssh",
		Args: []string{
			"-o", "BatchMode=yes",
			"-i", t.KeyPath,
			"-p", t.port(),
			t.User + "@" + t.Host,
			remoteCmd,
		},
	}
}

// SCP copies the local path src (recursively) to dst on the target using the
// legacy scp protocol.
func SCP(t Target, src, dst string) Command {
	return Command{
		Program: "scp",
		Args: []string{
			"-O",
			"-o", "BatchMode=yes",
			"-i", t.KeyPath,
			"-r",
			"-P", t.port(),
			src,
			t.Address() + ":" + dst,
		},
	}
}

// SSHProbe is a zero-effect login used to validate a key. Unknown host keys
// are accepted on first use.
func SSHProbe(t Target) Command {
	return Command{
		Program: "ssh",
		Args: []string{
			"-q",
			"-o", "BatchMode=yes",
			"-o", "StrictHostKeyChecking=no",
			"-o", "ConnectTimeout=" + strconv.Itoa(ConnectTimeoutSeconds),
			"-p", t.port(),
			"-i", t.KeyPath,
			t.User + "@" + t.Host,
			"exit 0",
		},
	}
}
