// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/toeirei/fleetmaster/internal/credential"
	"github.com/toeirei/fleetmaster/internal/executor"
	"github.com/toeirei/fleetmaster/internal/model"
)

// fakeShell records every remote action. failOn maps a command prefix (or
// "copy:<dst>") to the error that action returns.
type fakeShell struct {
	log    []string
	failOn map[string]error
	closed bool
}

func (f *fakeShell) fail(action string) error {
	for prefix, err := range f.failOn {
		if strings.HasPrefix(action, prefix) {
			return err
		}
	}
	return nil
}

func (f *fakeShell) Run(_ context.Context, cmd string) error {
	f.log = append(f.log, cmd)
	return f.fail(cmd)
}

func (f *fakeShell) Copy(_ context.Context, src, dst string) error {
	action := "copy:" + dst
	f.log = append(f.log, action)
	return f.fail(action)
}

func (f *fakeShell) Close() error { f.closed = true; return nil }

type fakeDialer struct {
	shell   *fakeShell
	targets []executor.Target
}

func (d *fakeDialer) Dial(_ context.Context, t executor.Target) (RemoteShell, error) {
	d.targets = append(d.targets, t)
	return d.shell, nil
}

type fakeProber struct{ err error }

func (p fakeProber) Probe(context.Context, executor.Target) error { return p.err }

type fixture struct {
	store  *credential.Store
	dialer *fakeDialer
	opts   Options
	p      *Pipeline
}

func newFixture(t *testing.T, probeErr error) *fixture {
	t.Helper()
	root := t.TempDir()
	store := credential.New(root, fakeProber{err: probeErr})
	if err := store.InitDirs(); err != nil {
		t.Fatal(err)
	}
	opts := Options{
		AgentPort:   18989,
		Binary:      "fleetmaster-agent",
		Unit:        "fleetmaster-agent.service",
		LocalBinary: filepath.Join(root, "bin", "fleetmaster-agent"),
		LocalUnit:   filepath.Join(root, "bin", "fleetmaster-agent.service"),
		InstallDir:  "/usr/local/bin",
		UnitDir:     "/etc/systemd/system",
	}
	d := &fakeDialer{shell: &fakeShell{failOn: map[string]error{}}}
	return &fixture{store: store, dialer: d, opts: opts, p: NewPipeline(store, d, opts)}
}

func key(t *testing.T) []byte {
	t.Helper()
	_, priv, err := credential.GenerateKeyPair("")
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func TestPipeline_Success(t *testing.T) {
	f := newFixture(t, nil)
	ip := netip.MustParseAddr("10.0.0.6")

	host, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web2", IP: ip, Key: key(t)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if host.State != model.StateRunning || host.KeyScope != model.KeyScopeHost || host.ID != 0 {
		t.Fatalf("unexpected host %+v", host)
	}
	if host.SSHUser != "root" || host.SSHPort != 22 {
		t.Fatalf("defaults not applied: %+v", host)
	}

	want := []string{
		"firewall-cmd --add-port 18989/tcp",
		"systemctl stop fleetmaster-agent.service || true",
		"copy:/usr/local/bin/fleetmaster-agent",
		"copy:/etc/systemd/system/fleetmaster-agent.service",
		"systemctl daemon-reload",
		"systemctl start fleetmaster-agent.service",
		"systemctl enable fleetmaster-agent.service",
	}
	if !reflect.DeepEqual(f.dialer.shell.log, want) {
		t.Fatalf("remote actions:\n got %q\nwant %q", f.dialer.shell.log, want)
	}
	if !f.dialer.shell.closed {
		t.Fatalf("shell not closed")
	}
	if got := f.dialer.targets[0].KeyPath; got != f.store.CommittedPath(ip) {
		t.Fatalf("deployment must use the committed key, got %s", got)
	}
	if _, err := os.Stat(f.opts.LocalUnit); err != nil {
		t.Fatalf("default unit not rendered: %v", err)
	}
}

func TestPipeline_StopFailureIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.dialer.shell.failOn["systemctl stop"] = &executor.CommandError{Program: "ssh", ExitStatus: 5}

	_, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web1", IP: netip.MustParseAddr("10.0.0.5"), Key: key(t)})
	if err != nil {
		t.Fatalf("stop failure must not abort enrollment: %v", err)
	}
}

func TestPipeline_NoKeyNoGlobal(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web1", IP: netip.MustParseAddr("10.0.0.5")})
	var cerr *credential.CredentialError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	var derr *DeploymentError
	if !errors.As(err, &derr) || derr.Step != StepCredential {
		t.Fatalf("expected credential step, got %v", err)
	}
	if len(f.dialer.targets) != 0 || len(f.dialer.shell.log) != 0 {
		t.Fatalf("no remote command may run: %v", f.dialer.shell.log)
	}
}

func TestPipeline_GlobalKey(t *testing.T) {
	f := newFixture(t, errors.New("probe must not run"))
	if _, err := f.store.GenerateGlobal("", false); err != nil {
		t.Fatal(err)
	}
	host, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web1", IP: netip.MustParseAddr("10.0.0.5")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if host.KeyScope != model.KeyScopeGlobal {
		t.Fatalf("expected global scope, got %s", host.KeyScope)
	}
	if f.dialer.targets[0].KeyPath != f.store.GlobalPath() {
		t.Fatalf("expected global key path")
	}
}

func TestPipeline_ProbeFailure(t *testing.T) {
	f := newFixture(t, errors.New("connection timed out"))
	_, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web1", IP: netip.MustParseAddr("10.0.0.5"), Key: key(t)})
	var cerr *credential.ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
	if len(f.dialer.shell.log) != 0 {
		t.Fatalf("no remote command may run after a failed probe")
	}
}

// uncommittedStore hands back the staged credential without promoting it.
type uncommittedStore struct{ *credential.Store }

func (s uncommittedStore) ValidateAndCommit(_ context.Context, cred credential.Credential, _ string, _ uint16) (credential.Credential, error) {
	return cred, nil
}

func TestPipeline_TemporaryCredentialNeverDialed(t *testing.T) {
	f := newFixture(t, nil)
	p := NewPipeline(uncommittedStore{f.store}, f.dialer, f.opts)
	_, err := p.Run(context.Background(), model.EnrollmentRequest{Name: "web1", IP: netip.MustParseAddr("10.0.0.5"), Key: key(t)})
	var derr *DeploymentError
	if !errors.As(err, &derr) || derr.Step != StepCredential {
		t.Fatalf("expected DeploymentError at credential, got %v", err)
	}
	if len(f.dialer.targets) != 0 || len(f.dialer.shell.log) != 0 {
		t.Fatalf("temporary key was used: targets %v, log %v", f.dialer.targets, f.dialer.shell.log)
	}
}

func TestPipeline_StepFailures(t *testing.T) {
	tests := []struct {
		name       string
		failOn     string
		wantStep   Step
		wantLastOp string
	}{
		{"firewall", "firewall-cmd", StepFirewall, "firewall-cmd --add-port 18989/tcp"},
		{"binary copy", "copy:/usr/local/bin", StepCopy, "copy:/usr/local/bin/fleetmaster-agent"},
		{"unit copy", "copy:/etc/systemd", StepCopy, "copy:/etc/systemd/system/fleetmaster-agent.service"},
		{"daemon reload", "systemctl daemon-reload", StepActivate, "systemctl daemon-reload"},
		{"enable", "systemctl enable", StepActivate, "systemctl enable fleetmaster-agent.service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			cause := &executor.CommandError{Program: "scp", ExitStatus: 1, Stderr: []byte("Permission denied")}
			f.dialer.shell.failOn[tt.failOn] = cause

			host, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web2", IP: netip.MustParseAddr("10.0.0.6"), Key: key(t)})
			if host != nil {
				t.Fatalf("no host may be returned on failure")
			}
			var derr *DeploymentError
			if !errors.As(err, &derr) {
				t.Fatalf("expected DeploymentError, got %v", err)
			}
			if derr.Step != tt.wantStep {
				t.Fatalf("step = %s, want %s", derr.Step, tt.wantStep)
			}
			var cerr *executor.CommandError
			if !errors.As(err, &cerr) || cerr != cause {
				t.Fatalf("underlying command error not preserved: %v", err)
			}
			log := f.dialer.shell.log
			if log[len(log)-1] != tt.wantLastOp {
				t.Fatalf("pipeline continued past failure: %q", log)
			}
		})
	}
}

func TestPipeline_InvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "", IP: netip.MustParseAddr("10.0.0.5")})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestServiceControl(t *testing.T) {
	f := newFixture(t, nil)
	ip := netip.MustParseAddr("10.0.0.6")
	if _, err := f.p.Run(context.Background(), model.EnrollmentRequest{Name: "web2", IP: ip, Key: key(t)}); err != nil {
		t.Fatal(err)
	}
	f.dialer.shell.log = nil

	h := model.Host{Name: "web2", IP: ip, SSHUser: "root", SSHPort: 22, KeyScope: model.KeyScopeHost}
	if err := f.p.ServiceControl(context.Background(), h, ActionStop); err != nil {
		t.Fatalf("ServiceControl: %v", err)
	}
	if want := []string{"systemctl stop fleetmaster-agent.service"}; !reflect.DeepEqual(f.dialer.shell.log, want) {
		t.Fatalf("got %q", f.dialer.shell.log)
	}
	if last := f.dialer.targets[len(f.dialer.targets)-1]; last.KeyPath != f.store.CommittedPath(ip) {
		t.Fatalf("service control must use committed key, got %s", last.KeyPath)
	}
	if err := f.p.ServiceControl(context.Background(), h, "restart"); err == nil {
		t.Fatalf("expected error for unsupported action")
	}
}

func TestEnsureUnitFile_KeepsOperatorUnit(t *testing.T) {
	dir := t.TempDir()
	o := Options{AgentPort: 1, Binary: "a", Unit: "a.service", InstallDir: "/opt", LocalUnit: filepath.Join(dir, "a.service")}
	if err := os.WriteFile(o.LocalUnit, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureUnitFile(o); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(o.LocalUnit)
	if string(data) != "custom" {
		t.Fatalf("operator unit overwritten: %q", data)
	}
}

func TestRenderUnit(t *testing.T) {
	data, err := RenderUnit(Options{AgentPort: 18989, Binary: "fleetmaster-agent", InstallDir: "/usr/local/bin"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ExecStart=/usr/local/bin/fleetmaster-agent --port 18989") {
		t.Fatalf("unexpected unit:\n%s", data)
	}
}

func TestExecDialer(t *testing.T) {
	rec := &recordingExec{}
	target := executor.Target{User: "root", Host: "10.0.0.5", Port: 22, KeyPath: "/k"}
	shell, err := ExecDialer{Exec: rec}.Dial(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	_ = shell.Run(context.Background(), "uptime")
	_ = shell.Copy(context.Background(), "/src", "/dst")
	if len(rec.cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(rec.cmds))
	}
	if !reflect.DeepEqual(rec.cmds[0], executor.SSH(target, "uptime")) {
		t.Fatalf("run built %v", rec.cmds[0])
	}
	if !reflect.DeepEqual(rec.cmds[1], executor.SCP(target, "/src", "/dst")) {
		t.Fatalf("copy built %v", rec.cmds[1])
	}
}

type recordingExec struct{ cmds []executor.Command }

func (r *recordingExec) Execute(_ context.Context, c executor.Command) ([]byte, error) {
	r.cmds = append(r.cmds, c)
	return nil, nil
}
