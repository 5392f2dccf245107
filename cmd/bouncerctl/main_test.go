package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	wallet     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	contract   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProjectImportShowList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ctl.db")
	file := filepath.Join(t.TempDir(), "cats.yaml")
	yaml := "project_id: cats\nmandatory_knowledge: one billion supply\nproject_desc: cat coin\n"
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--db", db, "project", "import", file)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "imported cats") {
		t.Errorf("import output %q", out)
	}

	out, err = run(t, "--db", db, "project", "show", "cats")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "one billion supply") {
		t.Errorf("show output %q", out)
	}

	out, err = run(t, "--db", db, "project", "list")
	if err != nil || strings.TrimSpace(out) != "cats" {
		t.Errorf("list = %q, %v", out, err)
	}

	if _, err := run(t, "--db", db, "project", "show", "dogs"); err == nil {
		t.Error("show of unknown project succeeded")
	}
}

func TestProjectImportRejectsInvalid(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ctl.db")
	file := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(file, []byte("project_id: bad\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--db", db, "project", "import", file); err == nil {
		t.Fatal("invalid config imported")
	}
}

func TestAllocate(t *testing.T) {
	out, err := run(t, "allocate", "--knowledge", "8", "--vibe", "8", "--jitter", "0")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "680" {
		t.Errorf("allocate = %q, want 680", out)
	}
	if _, err := run(t, "allocate", "--jitter", "2"); err == nil {
		t.Error("out of range jitter accepted")
	}
}

func TestSignAndVerify(t *testing.T) {
	out, err := run(t, "sign", "--key", devKey, "--wallet", wallet, "--contract", contract, "--nonce", "3", "--allocation", "700")
	if err != nil {
		t.Fatalf("sign: %v\n%s", err, out)
	}
	if !strings.Contains(out, devAddress) {
		t.Fatalf("sign output %q", out)
	}
	var sig string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "signature:") {
			sig = strings.TrimSpace(strings.TrimPrefix(line, "signature:"))
		}
	}
	if sig == "" {
		t.Fatalf("no signature in %q", out)
	}

	base := []string{"verify", "--wallet", wallet, "--contract", contract, "--nonce", "3", "--signature", sig, "--signer", devAddress}
	out, err = run(t, append(base, "--allocation", "700")...)
	if err != nil || !strings.Contains(out, "valid") {
		t.Fatalf("verify = %q, %v", out, err)
	}
	if _, err := run(t, append(base, "--allocation", "701")...); err == nil {
		t.Fatal("tampered allocation verified")
	}
}

func TestSignKeyFromEnv(t *testing.T) {
	t.Setenv("BOUNCER_SIGNING_KEY", devKey)
	out, err := run(t, "sign", "--wallet", wallet, "--contract", contract)
	if err != nil || !strings.Contains(out, devAddress) {
		t.Fatalf("sign = %q, %v", out, err)
	}
}

func TestSessionsEmpty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ctl.db")
	out, err := run(t, "--db", db, "sessions")
	if err != nil || !strings.HasPrefix(out, "KEY") {
		t.Fatalf("sessions = %q, %v", out, err)
	}
	out, err = run(t, "--db", db, "sessions", "sweep")
	if err != nil || !strings.Contains(out, "deleted 0") {
		t.Fatalf("sweep = %q, %v", out, err)
	}
}
