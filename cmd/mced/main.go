// Command mced is the Mode Control Entity daemon: it wires every
// subsystem (§4) onto a shared datapipe.Hub and runs them until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/sailfishos-mce/mce-core/internal/audioroute"
	"github.com/sailfishos-mce/mce-core/internal/bootmode"
	"github.com/sailfishos-mce/mce-core/internal/busclient"
	"github.com/sailfishos-mce/mce-core/internal/charging"
	"github.com/sailfishos-mce/mce-core/internal/daemonconfig"
	"github.com/sailfishos-mce/mce-core/internal/datapipe"
	"github.com/sailfishos-mce/mce-core/internal/errcode"
	"github.com/sailfishos-mce/mce-core/internal/evdev"
	"github.com/sailfishos-mce/mce-core/internal/heartbeat"
	"github.com/sailfishos-mce/mce-core/internal/inactivity"
	"github.com/sailfishos-mce/mce-core/internal/mcetypes"
	"github.com/sailfishos-mce/mce-core/internal/multitouch"
	"github.com/sailfishos-mce/mce-core/internal/settings"
	"github.com/sailfishos-mce/mce-core/internal/submode"
	"github.com/sailfishos-mce/mce-core/internal/sysfsio"
	"github.com/sailfishos-mce/mce-core/internal/tklock"
	"github.com/sailfishos-mce/mce-core/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "/etc/mce/mced.json", "path to the daemon config file")
	dev := flag.Bool("dev", false, "enable human-readable console logging")
	flag.Parse()

	log := newLogger(*dev)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("mced: unrecovered panic at top level")
			os.Exit(1)
		}
	}()

	cfg, err := daemonconfig.Load(*configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("failed to load config; using defaults")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := newDaemon(log, cfg)
	d.run(ctx)

	log.Info().Msg("mced: shutdown complete")
}

func newLogger(dev bool) zerolog.Logger {
	if dev && isatty.IsTerminal(os.Stdout.Fd()) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// daemon bundles every subsystem controller for the lifetime of one
// process run.
type daemon struct {
	log zerolog.Logger
	cfg daemonconfig.Config

	hub      *datapipe.Hub
	hb       *heartbeat.Service
	pool     *workerpool.Pool
	sm       *submode.Register
	settings *settings.Tree
	bus      *busclient.Bus
	conn     *busclient.Connection

	boot    *bootmode.Controller
	inact   *inactivity.Tracker
	charge  *charging.Evaluator
	audio   *audioroute.Router
	tk      *tklock.Machine

	input *inputPump
}

func newDaemon(log zerolog.Logger, cfg daemonconfig.Config) *daemon {
	d := &daemon{
		log: log,
		cfg: cfg,

		hub:      datapipe.NewHub(log),
		hb:       heartbeat.New(log),
		pool:     workerpool.New(log, cfg.WorkerPoolQueueDepth),
		sm:       submode.New(log),
		settings: settings.New(log),
	}

	settings.RegisterDefaults(d.settings)
	d.loadSettings()

	d.bus = busclient.NewBus(cfg.BusQueueDepth, "+", "#")
	d.conn = d.bus.NewConnection("mced")

	// The six channels owned by external IPC sources that tklock reads
	// but never declares itself (§4.4): a plugin upstream of this
	// process is responsible for publishing them. mced declares them so
	// tklock.New's MustGet calls never panic before the first real value
	// arrives.
	d.hub.Declare(tklock.ChanDisplayState, datapipe.ChannelOpts{Initial: mcetypes.DisplayUndefined})
	d.hub.Declare(tklock.ChanDisplayNext, datapipe.ChannelOpts{Initial: mcetypes.DisplayUndefined})
	d.hub.Declare(tklock.ChanDevicelock, datapipe.ChannelOpts{Initial: mcetypes.DevicelockUndefined})
	d.hub.Declare(tklock.ChanCallState, datapipe.ChannelOpts{Initial: mcetypes.CallNone})
	d.hub.Declare(tklock.ChanLipstickUp, datapipe.ChannelOpts{Initial: false})
	d.hub.Declare(tklock.ChanCompositorUp, datapipe.ChannelOpts{Initial: false})

	d.boot = bootmode.New(bootmode.Deps{
		Log:     log,
		Hub:     d.hub,
		Submode: d.sm,
		IPC:     d.ipcCall,
	})

	d.inact = inactivity.New(inactivity.Deps{
		Log:          log,
		Hub:          d.hub,
		Heartbeat:    d.hb,
		Wakelock:     d.wakelock,
		Shutdown:     func() { d.boot.SetState(mcetypes.SystemShutdown) },
		InactivityMs: 30000,
		ShutdownMs:   d.settings.Get(settings.KeyInactivityShutdownDelayMs).Int,
	})

	chargeControl := sysfsio.NewControl(log, "charging-enable", cfg.ChargingControlPaths...)
	d.pool.AddContext("charging")
	d.charge = charging.New(charging.Deps{
		Log:      log,
		Hub:      d.hub,
		Settings: d.settings,
		Pool:     d.pool,
		Control:  chargeControl,
	})

	d.audio = audioroute.New(audioroute.Deps{Log: log, Hub: d.hub})

	tsControl := sysfsio.NewControl(log, "touchscreen-enable", cfg.TouchscreenEnablePaths...)
	kpControl := sysfsio.NewControl(log, "keypad-enable", cfg.KeypadEnablePaths...)
	dtControl := sysfsio.NewControl(log, "double-tap-gesture", cfg.DoubleTapGesturePaths...)

	d.pool.AddContext("tklock")
	d.tk = tklock.New(tklock.Deps{
		Log:       log,
		Hub:       d.hub,
		Heartbeat: d.hb,
		Pool:      d.pool,
		Submode:   d.sm,
		Settings:  d.settings,
		Wakelock:  d.wakelock,
		IPC:       d.ipcCall,

		TouchscreenControl: tsControl,
		KeypadControl:      kpControl,
		DoubleTapControl:   dtControl,
	})

	d.hub.MustGet(tklock.ChanLipstickUp).AttachOutputTrigger(datapipe.TriggerFunc{
		Tag: "mced.desktop_startup",
		Fn: func(_ datapipe.SourcePolicy, v any) {
			if up, _ := v.(bool); up {
				d.boot.DesktopStartupComplete()
			}
		},
	})

	d.input = newInputPump(log, cfg.InputDevicePaths, d.inact)

	return d
}

func (d *daemon) loadSettings() {
	raw, err := os.ReadFile(d.cfg.SettingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Warn().Err(err).Str("path", d.cfg.SettingsPath).Msg("failed to read settings file")
		}
		return
	}
	if err := d.settings.LoadBytes(raw); err != nil {
		d.log.Warn().Err(err).Msg("failed to parse settings file; keeping defaults")
	}
}

// ipcCall is the one-and-only IPC egress point for this process; the
// actual transport to other services is out of scope (§1), so it is
// modeled as a local publish onto the same in-process bus every
// component already shares.
func (d *daemon) ipcCall(method string, args ...any) {
	d.conn.Publish(d.conn.NewMessage(busclient.T("mce", method), args, false))
}

// wakelock is a no-op on a host with no real suspend blocker wired up;
// it only logs at debug level so tests of the calling code don't need
// to assert on it.
func (d *daemon) wakelock(name string, hold bool) {
	d.log.Debug().Str("wakelock", name).Bool("hold", hold).Msg("wakelock")
}

func (d *daemon) run(ctx context.Context) {
	done := make(chan struct{})
	go func() { d.hb.Run(ctx, time.Duration(d.cfg.HeartbeatResolutionMs)*time.Millisecond); close(done) }()
	go d.pool.Run(ctx)
	go d.pool.RunNotifyLoop(ctx)
	go d.input.run(ctx)

	d.log.Info().Msg("mced: running")
	<-ctx.Done()
	d.log.Info().Msg("mced: shutting down")
	<-done
}

// inputPump owns the raw evdev device handles and feeds every decoded
// event through a multitouch.Decoder, turning finger-down and tap
// activity into inactivity.Tracker pulses (§4.5, §4.9).
type inputPump struct {
	log   zerolog.Logger
	paths []string
	inact *inactivity.Tracker
}

func newInputPump(log zerolog.Logger, paths []string, inact *inactivity.Tracker) *inputPump {
	return &inputPump{
		log:   log.With().Str("component", "inputpump").Logger(),
		paths: paths,
		inact: inact,
	}
}

func (p *inputPump) run(ctx context.Context) {
	for _, path := range p.paths {
		go p.pumpDevice(ctx, path)
	}
}

// pumpDevice opens one evdev node and decodes it until ctx is
// cancelled. A device that doesn't exist or can't be opened (many
// boards don't populate every configured event node) is logged once
// and skipped rather than treated as fatal.
func (p *inputPump) pumpDevice(ctx context.Context, path string) {
	dev, err := evdev.Open(path)
	if err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("failed to open input device")
		return
	}
	defer dev.Close()

	dec := multitouch.New()
	dec.OnFingerCountChange = func(count int) {
		if count > 0 {
			p.inact.Pulse()
		}
	}
	dec.OnTap = func(multitouch.TapEvent) {
		p.inact.Pulse()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := dev.ReadEvent(250 * time.Millisecond)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			p.log.Warn().Err(err).Str("path", path).Msg("input device read failed; stopping pump")
			return
		}
		dec.Feed(ev)
	}
}

func isTimeout(err error) bool {
	if errcode.Of(err) == errcode.Timeout {
		return true
	}
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
