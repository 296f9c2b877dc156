package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nimdanitro/thermo-conformance/pkg/device/devicetest"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envFlags {
		t.Setenv(key, "")
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunPasses(t *testing.T) {
	clearEnv(t)
	srv := devicetest.New().Start(t)

	code, out, errOut := runCLI(t, "--target", srv.URL, "--rate", "0")
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d\nstdout:\n%s\nstderr:\n%s", exitOK, code, out, errOut)
	}
	if !strings.Contains(out, "11 checks, 0 failed") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestRunFailsOnLeakedPassword(t *testing.T) {
	clearEnv(t)
	d := devicetest.New()
	d.SoftAP.Password = "mysecret"
	d.LeakPasswords = true
	srv := d.Start(t)

	code, out, errOut := runCLI(t, "--target", srv.URL, "--rate", "0")
	if code != exitFailed {
		t.Fatalf("expected exit %d, got %d", exitFailed, code)
	}
	if !strings.Contains(out, "FAIL  wifi/softap") {
		t.Errorf("expected softap failure:\n%s", out)
	}
	if strings.Contains(out, "mysecret") || strings.Contains(errOut, "mysecret") {
		t.Error("output leaks the secret")
	}
}

func TestRunTargetFromEnv(t *testing.T) {
	clearEnv(t)
	srv := devicetest.New().Start(t)
	t.Setenv("TARGET_IP", strings.TrimPrefix(srv.URL, "http://"))
	t.Setenv("THERMO_CHECKS", "wifi/network")

	code, out, _ := runCLI(t, "--rate", "0")
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d\n%s", exitOK, code, out)
	}
	if !strings.Contains(out, "1 checks, 0 failed") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestRunPositionalTarget(t *testing.T) {
	clearEnv(t)
	srv := devicetest.New().Start(t)

	code, out, _ := runCLI(t, "--check", "wifi/softap", srv.URL)
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d\n%s", exitOK, code, out)
	}
}

func TestRunMissingTarget(t *testing.T) {
	clearEnv(t)

	code, out, errOut := runCLI(t)
	if code != exitConfig {
		t.Fatalf("expected exit %d, got %d", exitConfig, code)
	}
	if !strings.Contains(errOut, "TARGET_IP") {
		t.Errorf("expected hint about TARGET_IP, got %q", errOut)
	}
	if out != "" {
		t.Errorf("no report expected before checks run, got %q", out)
	}
}

func TestRunConfigErrors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--target", "10.0.0.1", "--bogus"}},
		{"bad output", []string{"--target", "10.0.0.1", "--output", "xml"}},
		{"unknown check", []string{"--target", "10.0.0.1", "--check", "presentation"}},
		{"zero attempts", []string{"--target", "10.0.0.1", "--attempts", "0"}},
		{"missing contract", []string{"--target", "10.0.0.1", "--contract", filepath.Join(t.TempDir(), "none.yaml")}},
		{"bad scheme", []string{"--target", "ftp://10.0.0.1"}},
		{"extra args", []string{"10.0.0.1", "10.0.0.2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != exitConfig {
				t.Fatalf("expected exit %d, got %d", exitConfig, code)
			}
		})
	}

	t.Setenv("THERMO_TIMEOUT", "soon")
	if code, _, errOut := runCLI(t, "--target", "10.0.0.1"); code != exitConfig || !strings.Contains(errOut, "THERMO_TIMEOUT") {
		t.Fatalf("expected env error, got %d %q", code, errOut)
	}
}

func TestRunJSONAndTextfile(t *testing.T) {
	clearEnv(t)
	srv := devicetest.New().Start(t)
	textfile := filepath.Join(t.TempDir(), "thermo.prom")

	code, out, _ := runCLI(t, "-t", srv.URL, "-o", "json", "--metrics.textfile", textfile, "--parallel", "3")
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d\n%s", exitOK, code, out)
	}

	var got struct {
		Passed  bool              `json:"passed"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid json report: %v\n%s", err, out)
	}
	if !got.Passed || len(got.Results) != 11 {
		t.Errorf("unexpected report: passed=%v results=%d", got.Passed, len(got.Results))
	}

	data, err := os.ReadFile(textfile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `thermo_conformance_check_passed{check="sensors"} 1`) {
		t.Errorf("unexpected textfile:\n%s", data)
	}
}

func TestRunVersion(t *testing.T) {
	clearEnv(t)
	code, out, _ := runCLI(t, "--version")
	if code != exitOK || !strings.HasPrefix(out, serviceName+" dev") {
		t.Fatalf("got %d %q", code, out)
	}
}

func TestParseFlagsCommandLineOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("THERMO_CHECKS", "wifi/network")
	t.Setenv("THERMO_TIMEOUT", "3s")

	o, err := parseFlags([]string{"--check", "wifi/softap"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.checks) != 1 || o.checks[0] != "wifi/softap" {
		t.Errorf("got checks %v, want [wifi/softap]", o.checks)
	}
	if o.timeout != 3*time.Second {
		t.Errorf("env default not applied, got timeout %s", o.timeout)
	}

	o, err = parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.checks) != 1 || o.checks[0] != "wifi/network" {
		t.Errorf("got checks %v, want [wifi/network]", o.checks)
	}
}
