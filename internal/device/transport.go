// Package device implements the Android Automotive device driver: primitive
// input actions, geometry queries, and screenshot capture over an adb shell
// transport. Primitive failures are reported in the Result, never raised;
// callers decide whether to escalate.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"roadtest/internal/logging"
)

// Transport is the line-oriented shell contract the driver is built on.
// The production implementation shells out to adb; tests substitute fakes.
type Transport interface {
	// Shell runs a device-side shell command and returns its combined output.
	Shell(ctx context.Context, args ...string) (string, error)

	// ExecOut runs a device-side command and returns its raw stdout. Used
	// for binary payloads (screencap -p).
	ExecOut(ctx context.Context, args ...string) ([]byte, error)

	// Pull copies a device-side file to the host.
	Pull(ctx context.Context, remote, local string) error

	// Devices lists attached device serials.
	Devices(ctx context.Context) ([]string, error)
}

// ADBTransport talks to a device through the adb binary.
type ADBTransport struct {
	binary string
	serial string
}

// NewADBTransport creates a transport for the given serial. An empty serial
// uses the single attached device.
func NewADBTransport(serial string) *ADBTransport {
	return &ADBTransport{binary: "adb", serial: serial}
}

func (t *ADBTransport) base() []string {
	if t.serial != "" {
		return []string{"-s", t.serial}
	}
	return nil
}

// Shell implements Transport.
func (t *ADBTransport) Shell(ctx context.Context, args ...string) (string, error) {
	full := append(append(t.base(), "shell"), args...)
	out, err := t.run(ctx, full)
	return strings.TrimSpace(string(out)), err
}

// ExecOut implements Transport.
func (t *ADBTransport) ExecOut(ctx context.Context, args ...string) ([]byte, error) {
	full := append(append(t.base(), "exec-out"), args...)
	return t.run(ctx, full)
}

// Pull implements Transport.
func (t *ADBTransport) Pull(ctx context.Context, remote, local string) error {
	full := append(t.base(), "pull", remote, local)
	_, err := t.run(ctx, full)
	return err
}

// Devices implements Transport.
func (t *ADBTransport) Devices(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, []string{"devices"})
	if err != nil {
		return nil, err
	}
	var serials []string
	for _, line := range strings.Split(string(out), "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials, nil
}

func (t *ADBTransport) run(ctx context.Context, args []string) ([]byte, error) {
	log := logging.Get(logging.CategoryDevice)
	log.Debugw("adb", "args", args)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("adb %s timed out", strings.Join(args, " "))
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("adb %s failed: %s", strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}

// escapeText converts free text into the form `input text` accepts: spaces
// become %s and shell metacharacters are backslash-escaped.
func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\'', '"', '`', '\\', '&', '|', ';', '(', ')', '<', '>', '$', '*', '?', '~', '#':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// withTimeout derives the per-call context used by every primitive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
