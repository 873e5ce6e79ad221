package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"testing"
	"time"

	"roadtest/internal/config"
	"roadtest/internal/control"
)

// fakeTransport records shell calls and replays scripted responses.
type fakeTransport struct {
	calls     []string
	shellOut  map[string]string
	shellErr  map[string]error
	execOut   []byte
	execErr   error
	pullBytes []byte
	pullErr   error
	failFirst int // fail this many shell calls before succeeding
}

func (f *fakeTransport) Shell(_ context.Context, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if f.failFirst > 0 {
		f.failFirst--
		return "", fmt.Errorf("transport error")
	}
	if err, ok := f.shellErr[key]; ok {
		return "", err
	}
	return f.shellOut[key], nil
}

func (f *fakeTransport) ExecOut(_ context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, "exec-out "+strings.Join(args, " "))
	return f.execOut, f.execErr
}

func (f *fakeTransport) Pull(_ context.Context, remote, local string) error {
	f.calls = append(f.calls, "pull "+remote)
	if f.pullErr != nil {
		return f.pullErr
	}
	return os.WriteFile(local, f.pullBytes, 0o644)
}

func (f *fakeTransport) Devices(context.Context) ([]string, error) {
	return []string{"HU1234"}, nil
}

func testDriver(ft *fakeTransport) (*Driver, *control.Controller) {
	ctrl := control.New()
	ctrl.Start()
	cfg := config.DeviceConfig{Timeout: time.Second, RetryCount: 3}
	return NewDriver(ft, ctrl, cfg), ctrl
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTapIssuesInputTap(t *testing.T) {
	ft := &fakeTransport{shellOut: map[string]string{}}
	d, _ := testDriver(ft)

	res := d.Tap(context.Background(), 850, 450)
	if !res.Success {
		t.Fatalf("tap failed: %s", res.Error)
	}
	if len(ft.calls) != 1 || ft.calls[0] != "input tap 850 450" {
		t.Errorf("unexpected calls: %v", ft.calls)
	}
}

func TestShellRetriesOnTransportError(t *testing.T) {
	ft := &fakeTransport{failFirst: 2, shellOut: map[string]string{}}
	d, _ := testDriver(ft)

	res := d.Tap(context.Background(), 10, 10)
	if !res.Success {
		t.Fatalf("expected success after retries, got %s", res.Error)
	}
	if len(ft.calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(ft.calls))
	}
}

func TestShellReportsFailureAfterBudget(t *testing.T) {
	ft := &fakeTransport{failFirst: 10}
	d, _ := testDriver(ft)

	res := d.Tap(context.Background(), 10, 10)
	if res.Success {
		t.Fatal("expected failure after exhausting retries")
	}
	if res.Error == "" {
		t.Error("expected error message in result")
	}
	if len(ft.calls) != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", len(ft.calls))
	}
}

func TestShellShortCircuitsOnStop(t *testing.T) {
	ft := &fakeTransport{}
	d, ctrl := testDriver(ft)
	ctrl.Stop()

	res := d.Tap(context.Background(), 10, 10)
	if res.Success {
		t.Fatal("expected failure when stopped")
	}
	if len(ft.calls) != 0 {
		t.Errorf("no transport call should be issued after stop, got %v", ft.calls)
	}
}

func TestInputTextEscapesWhitespace(t *testing.T) {
	ft := &fakeTransport{shellOut: map[string]string{}}
	d, _ := testDriver(ft)

	d.InputText(context.Background(), "hello world")
	if ft.calls[0] != "input text hello%sworld" {
		t.Errorf("unexpected escaping: %v", ft.calls)
	}
}

func TestPressShortcutsUseDocumentedCodes(t *testing.T) {
	ft := &fakeTransport{shellOut: map[string]string{}}
	d, _ := testDriver(ft)
	ctx := context.Background()

	d.PressHome(ctx)
	d.PressBack(ctx)
	d.PressEnter(ctx)
	d.PressMenu(ctx)

	want := []string{
		"input keyevent 3",
		"input keyevent 4",
		"input keyevent 66",
		"input keyevent 82",
	}
	for i, w := range want {
		if ft.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, ft.calls[i], w)
		}
	}
}

func TestScreenDimensionsOverrideBeatsPhysical(t *testing.T) {
	ft := &fakeTransport{shellOut: map[string]string{
		"wm size": "Physical size: 1920x1080\nOverride size: 1280x720",
	}}
	d, _ := testDriver(ft)

	w, h, err := d.ScreenDimensions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if w != 1280 || h != 720 {
		t.Errorf("got %dx%d, want override 1280x720", w, h)
	}
}

func TestScreenDimensionsCached(t *testing.T) {
	ft := &fakeTransport{shellOut: map[string]string{
		"wm size": "Physical size: 1920x1080",
	}}
	d, _ := testDriver(ft)

	if _, _, err := d.ScreenDimensions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := d.ScreenDimensions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(ft.calls) != 1 {
		t.Errorf("geometry should be cached, got %d wm size calls", len(ft.calls))
	}
}

func TestScreenshotExecOutFirst(t *testing.T) {
	shot := pngBytes(t, 1920, 1080)
	ft := &fakeTransport{execOut: shot}
	d, _ := testDriver(ft)

	data, w, h, err := d.Screenshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, shot) {
		t.Error("screenshot bytes mismatch")
	}
	if w != 1920 || h != 1080 {
		t.Errorf("got %dx%d, want 1920x1080", w, h)
	}
	if ft.calls[0] != "exec-out screencap -p" {
		t.Errorf("expected exec-out first, got %v", ft.calls)
	}
}

func TestScreenshotFallsBackToPull(t *testing.T) {
	shot := pngBytes(t, 800, 600)
	ft := &fakeTransport{
		execErr:   fmt.Errorf("exec-out unsupported"),
		shellOut:  map[string]string{"screencap -p /sdcard/screen.png": ""},
		pullBytes: shot,
	}
	d, _ := testDriver(ft)

	data, w, h, err := d.Screenshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || w != 800 || h != 600 {
		t.Errorf("pull fallback returned %d bytes %dx%d", len(data), w, h)
	}

	joined := strings.Join(ft.calls, " | ")
	if !strings.Contains(joined, "pull /sdcard/screen.png") {
		t.Errorf("expected pull fallback, calls: %v", ft.calls)
	}
}

func TestSwipeDirectionalUsesGeometry(t *testing.T) {
	ft := &fakeTransport{shellOut: map[string]string{
		"wm size": "Physical size: 1000x600",
	}}
	d, _ := testDriver(ft)

	res := d.SwipeUp(context.Background(), 200, 300*time.Millisecond)
	if !res.Success {
		t.Fatalf("swipe failed: %s", res.Error)
	}
	// center (500,300), distance 200 -> from (500,400) to (500,200)
	want := "input swipe 500 400 500 200 300"
	found := false
	for _, c := range ft.calls {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q in calls %v", want, ft.calls)
	}
}
