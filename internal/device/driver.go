package device

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"regexp"
	"strconv"
	"strings"
	"time"

	"roadtest/internal/config"
	"roadtest/internal/control"
	"roadtest/internal/logging"
)

// Key codes of the Android shell contract.
const (
	KeyHome       = 3
	KeyBack       = 4
	KeyEnter      = 66
	KeyMenu       = 82
	KeyRecentApps = 187
)

const screencapRemotePath = "/sdcard/screen.png"

// Result is the uniform outcome of every primitive.
type Result struct {
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Info describes the connected device.
type Info struct {
	Serial    string `json:"serial"`
	Model     string `json:"model"`
	OSVersion string `json:"os_version"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Density   int    `json:"density"`
}

// Driver issues primitive actions against one device. It caches the last
// known screen geometry and re-queries when it is zero.
type Driver struct {
	transport Transport
	ctrl      *control.Controller
	cfg       config.DeviceConfig

	width  int
	height int
}

// NewDriver wires a driver to its transport and controller.
func NewDriver(transport Transport, ctrl *control.Controller, cfg config.DeviceConfig) *Driver {
	return &Driver{transport: transport, ctrl: ctrl, cfg: cfg}
}

// =============================================================================
// TOUCH PRIMITIVES
// =============================================================================

// Tap issues a single tap at (x, y).
func (d *Driver) Tap(ctx context.Context, x, y int) Result {
	return d.shell(ctx, "input", "tap", itoa(x), itoa(y))
}

// DoubleTap issues two taps separated by delay.
func (d *Driver) DoubleTap(ctx context.Context, x, y int, delay time.Duration) Result {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	start := time.Now()
	first := d.Tap(ctx, x, y)
	if !first.Success {
		return first
	}
	time.Sleep(delay)
	second := d.Tap(ctx, x, y)
	second.DurationMs = time.Since(start).Milliseconds()
	return second
}

// LongPress holds (x, y) for the given duration using a zero-distance swipe.
func (d *Driver) LongPress(ctx context.Context, x, y int, duration time.Duration) Result {
	if duration <= 0 {
		duration = time.Second
	}
	ms := itoa(int(duration.Milliseconds()))
	return d.shell(ctx, "input", "swipe", itoa(x), itoa(y), itoa(x), itoa(y), ms)
}

// Swipe drags from (x1, y1) to (x2, y2) over the given duration.
func (d *Driver) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) Result {
	if duration <= 0 {
		duration = 300 * time.Millisecond
	}
	ms := itoa(int(duration.Milliseconds()))
	return d.shell(ctx, "input", "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), ms)
}

// SwipeUp swipes upward from screen center by distance pixels.
func (d *Driver) SwipeUp(ctx context.Context, distance int, duration time.Duration) Result {
	w, h, err := d.ScreenDimensions(ctx)
	if err != nil {
		return failed(err)
	}
	return d.Swipe(ctx, w/2, h/2+distance/2, w/2, h/2-distance/2, duration)
}

// SwipeDown swipes downward from screen center by distance pixels.
func (d *Driver) SwipeDown(ctx context.Context, distance int, duration time.Duration) Result {
	w, h, err := d.ScreenDimensions(ctx)
	if err != nil {
		return failed(err)
	}
	return d.Swipe(ctx, w/2, h/2-distance/2, w/2, h/2+distance/2, duration)
}

// SwipeLeft swipes leftward from screen center by distance pixels.
func (d *Driver) SwipeLeft(ctx context.Context, distance int, duration time.Duration) Result {
	w, h, err := d.ScreenDimensions(ctx)
	if err != nil {
		return failed(err)
	}
	return d.Swipe(ctx, w/2+distance/2, h/2, w/2-distance/2, h/2, duration)
}

// SwipeRight swipes rightward from screen center by distance pixels.
func (d *Driver) SwipeRight(ctx context.Context, distance int, duration time.Duration) Result {
	w, h, err := d.ScreenDimensions(ctx)
	if err != nil {
		return failed(err)
	}
	return d.Swipe(ctx, w/2-distance/2, h/2, w/2+distance/2, h/2, duration)
}

// =============================================================================
// TEXT AND KEYS
// =============================================================================

// InputText types the string, escaping whitespace for the shell.
func (d *Driver) InputText(ctx context.Context, s string) Result {
	return d.shell(ctx, "input", "text", escapeText(s))
}

// PressKey sends a raw key event code.
func (d *Driver) PressKey(ctx context.Context, code int) Result {
	return d.shell(ctx, "input", "keyevent", itoa(code))
}

// PressHome presses the HOME key.
func (d *Driver) PressHome(ctx context.Context) Result { return d.PressKey(ctx, KeyHome) }

// PressBack presses the BACK key.
func (d *Driver) PressBack(ctx context.Context) Result { return d.PressKey(ctx, KeyBack) }

// PressEnter presses the ENTER key.
func (d *Driver) PressEnter(ctx context.Context) Result { return d.PressKey(ctx, KeyEnter) }

// PressMenu presses the MENU key.
func (d *Driver) PressMenu(ctx context.Context) Result { return d.PressKey(ctx, KeyMenu) }

// =============================================================================
// CAPTURE AND GEOMETRY
// =============================================================================

// Screenshot captures the screen at full device resolution. Fallback order:
// exec-out first, then push/pull via /sdcard, then one retry of the chain.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, int, int, error) {
	log := logging.Get(logging.CategoryDevice)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if !d.ctrl.CheckAndWait() {
			return nil, 0, 0, fmt.Errorf("stop requested")
		}

		data, err := d.captureExecOut(ctx)
		if err == nil {
			w, h, derr := decodePNGSize(data)
			if derr == nil {
				return data, w, h, nil
			}
			err = derr
		}
		log.Debugw("exec-out screencap failed, trying pull", "err", err)

		data, perr := d.capturePull(ctx)
		if perr == nil {
			w, h, derr := decodePNGSize(data)
			if derr == nil {
				return data, w, h, nil
			}
			perr = derr
		}
		lastErr = perr
	}
	return nil, 0, 0, fmt.Errorf("screenshot failed: %w", lastErr)
}

func (d *Driver) captureExecOut(ctx context.Context) ([]byte, error) {
	cctx, cancel := withTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	data, err := d.transport.ExecOut(cctx, "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty screencap output")
	}
	return data, nil
}

func (d *Driver) capturePull(ctx context.Context) ([]byte, error) {
	cctx, cancel := withTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	if _, err := d.transport.Shell(cctx, "screencap", "-p", screencapRemotePath); err != nil {
		return nil, err
	}

	local, err := tempPNGPath()
	if err != nil {
		return nil, err
	}
	defer removeFile(local)

	pctx, pcancel := withTimeout(ctx, d.cfg.Timeout)
	defer pcancel()
	if err := d.transport.Pull(pctx, screencapRemotePath, local); err != nil {
		return nil, err
	}
	return readFile(local)
}

var wmSizeRe = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// ScreenDimensions returns cached geometry, querying the device when the
// cache is zero. Override size takes precedence over Physical size.
func (d *Driver) ScreenDimensions(ctx context.Context) (int, int, error) {
	if d.width > 0 && d.height > 0 {
		return d.width, d.height, nil
	}

	cctx, cancel := withTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	out, err := d.transport.Shell(cctx, "wm", "size")
	if err != nil {
		return 0, 0, fmt.Errorf("wm size failed: %w", err)
	}

	var physW, physH, overW, overH int
	for _, m := range wmSizeRe.FindAllStringSubmatch(out, -1) {
		w, _ := strconv.Atoi(m[2])
		h, _ := strconv.Atoi(m[3])
		if m[1] == "Override" {
			overW, overH = w, h
		} else {
			physW, physH = w, h
		}
	}
	if overW > 0 && overH > 0 {
		d.width, d.height = overW, overH
	} else {
		d.width, d.height = physW, physH
	}
	if d.width == 0 || d.height == 0 {
		return 0, 0, fmt.Errorf("could not parse wm size output: %q", out)
	}
	return d.width, d.height, nil
}

// Connected reports whether a device is reachable.
func (d *Driver) Connected(ctx context.Context) bool {
	cctx, cancel := withTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	serials, err := d.transport.Devices(cctx)
	return err == nil && len(serials) > 0
}

// DeviceInfo gathers serial, model, OS version, geometry and density.
func (d *Driver) DeviceInfo(ctx context.Context) (Info, error) {
	info := Info{Serial: d.cfg.Serial}

	cctx, cancel := withTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if info.Serial == "" {
		if serials, err := d.transport.Devices(cctx); err == nil && len(serials) > 0 {
			info.Serial = serials[0]
		}
	}
	if model, err := d.transport.Shell(cctx, "getprop", "ro.product.model"); err == nil {
		info.Model = model
	}
	if ver, err := d.transport.Shell(cctx, "getprop", "ro.build.version.release"); err == nil {
		info.OSVersion = ver
	}
	if out, err := d.transport.Shell(cctx, "wm", "density"); err == nil {
		if m := regexp.MustCompile(`(\d+)`).FindString(out); m != "" {
			info.Density, _ = strconv.Atoi(m)
		}
	}

	w, h, err := d.ScreenDimensions(ctx)
	if err != nil {
		return info, err
	}
	info.Width, info.Height = w, h
	return info, nil
}

// =============================================================================
// RETRY CORE
// =============================================================================

// shell runs one shell primitive with the configured retry budget and a
// short linear backoff. Retries stop immediately when the controller
// reports stop.
func (d *Driver) shell(ctx context.Context, args ...string) Result {
	log := logging.Get(logging.CategoryDevice)
	start := time.Now()

	retries := d.cfg.RetryCount
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if !d.ctrl.CheckAndWait() {
			return Result{
				Error:      "stop requested",
				DurationMs: time.Since(start).Milliseconds(),
			}
		}

		cctx, cancel := withTimeout(ctx, d.cfg.Timeout)
		out, err := d.transport.Shell(cctx, args...)
		cancel()
		if err == nil {
			return Result{
				Success:    true,
				Output:     out,
				DurationMs: time.Since(start).Milliseconds(),
			}
		}
		lastErr = err
		log.Warnw("primitive failed", "args", strings.Join(args, " "),
			"attempt", attempt, "err", err)

		if attempt < retries {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
	}
	return Result{
		Error:      lastErr.Error(),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func failed(err error) Result {
	return Result{Error: err.Error()}
}

func itoa(n int) string { return strconv.Itoa(n) }

func decodePNGSize(data []byte) (int, int, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid png: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
