package hilighting

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ConnState is the link's connection state. It is tracked explicitly
// rather than inferred from session-handle presence so the fast-path /
// slow-path connect check stays an observable branch.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultIdleTimeout is how long a link stays connected with no
// command traffic before it is proactively torn down.
const DefaultIdleTimeout = 30 * time.Second

// Link keeps one logical connection to a single HiLighting peripheral
// alive just long enough to serve bursts of commands. Connections are
// established lazily on the first command, reused while traffic keeps
// arriving, and dropped after the idle timeout. Every command is
// retried end to end, reconnect included, on transient transport
// failures.
//
// The reported state accessors (IsOn, RGBColor, Brightness, Effect)
// mirror the last successfully issued command. They are optimistic:
// the peripheral offers no readback, so they must not be taken as
// device-confirmed state.
type Link struct {
	addr   Addr
	name   string
	dialer Dialer
	device Device
	log    Logger

	idleTimeout time.Duration
	attempts    int
	backoff     time.Duration
	sleep       func(time.Duration)

	// connMu serializes connection establishment and disconnection.
	// Concurrent commands arriving while disconnected collapse into a
	// single dial attempt behind it.
	connMu sync.Mutex

	mu                 sync.RWMutex // guards everything below
	state              ConnState
	session            Session
	writeChar          Characteristic
	manufacturerChar   Characteristic
	firmwareChar       Characteristic
	modelChar          Characteristic
	expectedDisconnect bool
	idleTimer          *time.Timer

	isOn       bool
	rgb        [3]uint8
	brightness uint8
	effect     string

	manufacturer string
	firmware     string
	model        string
}

// NewLink resolves addr through the dialer's platform layer and builds
// a Link for it. It fails with ErrDeviceNotFound (wrapped) if the
// platform has no connectable device for the address; no connection is
// made until the first command.
func NewLink(d Dialer, address string, opts ...Option) (*Link, error) {
	a := NewAddr(address)

	dev, err := d.Resolve(a)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", a)
	}

	name := dev.Name()
	if name == "" {
		name = DefaultName(a)
	}

	l := &Link{
		addr:        a,
		name:        name,
		dialer:      d,
		device:      dev,
		idleTimeout: DefaultIdleTimeout,
		attempts:    DefaultAttempts,
		backoff:     DefaultBackoff,
		sleep:       time.Sleep,
		state:       StateDisconnected,
		rgb:         [3]uint8{255, 255, 255},
		brightness:  255,
		effect:      EffectOff,
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if l.log == nil {
		l.log = GetLogger().ChildLogger(map[string]interface{}{
			"name": l.name,
			"addr": l.addr.String(),
		})
	}

	return l, nil
}

// TurnOn powers the strip on.
func (l *Link) TurnOn() error {
	return l.retry("turn on", func() error {
		if err := l.write(cmdTurnOn); err != nil {
			return err
		}
		l.mu.Lock()
		l.isOn = true
		l.mu.Unlock()
		return nil
	})
}

// TurnOff powers the strip off.
func (l *Link) TurnOff() error {
	return l.retry("turn off", func() error {
		if err := l.write(cmdTurnOff); err != nil {
			return err
		}
		l.mu.Lock()
		l.isOn = false
		l.mu.Unlock()
		return nil
	})
}

// SetColor sets a static RGB color. Color and effect are mutually
// exclusive device modes, so a successful write clears the reported
// effect.
func (l *Link) SetColor(r, g, b uint8) error {
	return l.retry("set color", func() error {
		if err := l.write(colorPacket(r, g, b)); err != nil {
			return err
		}
		l.mu.Lock()
		l.rgb = [3]uint8{r, g, b}
		l.effect = EffectOff
		l.mu.Unlock()
		return nil
	})
}

// SetBrightness sets the brightness from the full 0-255 input range.
// The device only distinguishes 16 levels on the wire.
func (l *Link) SetBrightness(b uint8) error {
	return l.retry("set brightness", func() error {
		if err := l.write(brightnessPacket(b)); err != nil {
			return err
		}
		l.mu.Lock()
		l.brightness = b
		l.mu.Unlock()
		return nil
	})
}

// SetEffect starts one of the built-in effects by name ("Effect 0"
// through "Effect 9"). An unknown name is logged and ignored without a
// wire write; the name set is closed, so this is not an error.
func (l *Link) SetEffect(name string) error {
	id, ok := effectIDs[name]
	if !ok {
		l.log.Errorf("unsupported effect: %s", name)
		return nil
	}

	return l.retry("set effect", func() error {
		if err := l.write(effectPacket(id)); err != nil {
			return err
		}
		l.mu.Lock()
		l.effect = name
		l.mu.Unlock()
		return nil
	})
}

// SetEffectSpeed sets the running effect's speed, 0-100.
func (l *Link) SetEffectSpeed(speed int) error {
	return l.retry("set effect speed", func() error {
		return l.write(speedPacket(speed))
	})
}

// write sends one command packet, connecting first if needed. A lost
// session or unresolved write characteristic is reported as a
// transient failure so the caller's retry loop reconnects and tries
// again.
func (l *Link) write(p []byte) error {
	if err := l.ensureConnected(); err != nil {
		return err
	}

	l.mu.RLock()
	s, c := l.session, l.writeChar
	l.mu.RUnlock()

	if s == nil {
		return Transient(errors.New("session closed"))
	}
	if c == nil {
		return Transient(errors.New("write characteristic not resolved"))
	}

	return s.Write(c, p)
}

func (l *Link) connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session != nil && l.session.IsConnected()
}

func (l *Link) setState(st ConnState) {
	l.mu.Lock()
	l.state = st
	l.mu.Unlock()
}

func (l *Link) ensureConnected() error {
	// Fast path: live session, just keep it alive.
	if l.connected() {
		l.resetIdleTimer()
		return nil
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()

	// Another caller may have connected while we waited for the lock.
	if l.connected() {
		l.resetIdleTimer()
		return nil
	}

	l.setState(StateConnecting)
	l.log.Debug("connecting")

	s, err := l.dialer.Dial(l.device, l.name, l.onDisconnected)
	if err != nil {
		l.setState(StateDisconnected)
		return errors.Wrap(err, "connect")
	}

	if !l.resolveCharacteristics(s) {
		l.log.Debug("initial characteristic resolve failed, fetching fresh services")
		if rerr := s.RefreshServices(); rerr != nil {
			l.log.Warnf("service refresh failed: %v", rerr)
		} else {
			l.resolveCharacteristics(s)
		}
	}
	// Proceed even with an incomplete resolve; the next write fails as
	// a transient error and drives the command-level retry path.

	l.mu.Lock()
	l.session = s
	l.state = StateConnected
	l.mu.Unlock()

	l.readDeviceInfo(s)
	l.resetIdleTimer()
	l.log.Debug("connected")

	return nil
}

// resolveCharacteristics looks up the four required characteristics
// and reports whether all of them are present in the catalog.
func (l *Link) resolveCharacteristics(s Session) bool {
	w := s.Characteristic(WriteCharacteristicUUID)
	m := s.Characteristic(ManufacturerNameUUID)
	f := s.Characteristic(FirmwareRevisionUUID)
	n := s.Characteristic(SoftwareNumberUUID)

	l.mu.Lock()
	l.writeChar = w
	l.manufacturerChar = m
	l.firmwareChar = f
	l.modelChar = n
	l.mu.Unlock()

	return w != nil && m != nil && f != nil && n != nil
}

// readDeviceInfo refreshes the device-information mirror from the
// information characteristics. Best effort: a failed read leaves any
// previously known value in place.
func (l *Link) readDeviceInfo(s Session) {
	l.mu.RLock()
	mc, fc, nc := l.manufacturerChar, l.firmwareChar, l.modelChar
	l.mu.RUnlock()

	read := func(c Characteristic) (string, bool) {
		if c == nil {
			return "", false
		}
		b, err := s.Read(c)
		if err != nil || len(b) == 0 {
			return "", false
		}
		return string(b), true
	}

	mfr, okMfr := read(mc)
	fw, okFw := read(fc)
	model, okModel := read(nc)

	l.mu.Lock()
	defer l.mu.Unlock()
	if okMfr {
		l.manufacturer = mfr
	}
	if okFw {
		l.firmware = fw
	}
	if okModel {
		l.model = model
	}
}

// resetIdleTimer (re)arms the idle disconnect and clears the
// expected-disconnect flag. At most one timer is live at a time.
func (l *Link) resetIdleTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
	l.expectedDisconnect = false

	if l.idleTimeout > 0 {
		l.idleTimer = time.AfterFunc(l.idleTimeout, l.idleExpired)
	}
}

// idleExpired runs on the timer goroutine. It marks the upcoming
// disconnect as self-initiated before the teardown starts, so the
// transport's disconnect notification is not logged as a fault.
func (l *Link) idleExpired() {
	l.mu.Lock()
	l.idleTimer = nil
	l.expectedDisconnect = true
	l.mu.Unlock()

	l.log.Debugf("idle for %s, disconnecting", l.idleTimeout)
	go l.executeDisconnect()
}

func (l *Link) executeDisconnect() {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	l.mu.Lock()
	s := l.session
	l.session = nil
	l.writeChar = nil
	l.manufacturerChar = nil
	l.firmwareChar = nil
	l.modelChar = nil
	l.state = StateDisconnected
	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
	l.mu.Unlock()

	if s != nil && s.IsConnected() {
		if err := s.Disconnect(); err != nil {
			l.log.Warnf("disconnect failed: %v", err)
			return
		}
		l.log.Debug("disconnected")
	}
}

// onDisconnected handles the transport's disconnect notification. An
// unexpected drop is only logged; reconnection happens lazily on the
// next command.
func (l *Link) onDisconnected() {
	l.mu.RLock()
	expected := l.expectedDisconnect
	l.mu.RUnlock()

	if expected {
		l.log.Debug("disconnected (expected)")
		return
	}

	l.log.Warn("unexpected disconnect")
}

// Close proactively tears the link down and cancels the idle timer.
// The Link stays usable; the next command reconnects.
func (l *Link) Close() error {
	l.mu.Lock()
	l.expectedDisconnect = true
	if l.idleTimer != nil {
		l.idleTimer.Stop()
		l.idleTimer = nil
	}
	l.mu.Unlock()

	l.executeDisconnect()
	return nil
}

// Addr returns the peripheral's address.
func (l *Link) Addr() Addr { return l.addr }

// Name returns the display name, either advertised by the peripheral
// or derived from the address tail.
func (l *Link) Name() string { return l.name }

// State returns the current connection state.
func (l *Link) State() ConnState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsOn reports the last commanded power state.
func (l *Link) IsOn() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isOn
}

// RGBColor reports the last commanded color.
func (l *Link) RGBColor() (r, g, b uint8) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rgb[0], l.rgb[1], l.rgb[2]
}

// Brightness reports the last commanded brightness, in the 0-255
// input range.
func (l *Link) Brightness() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.brightness
}

// Effect reports the last commanded effect name, or EffectOff.
func (l *Link) Effect() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.effect
}

// EffectList returns the supported effect names, sorted.
func (l *Link) EffectList() []string { return EffectNames() }

// ColorMode reports how the strip renders color. Always "rgb".
func (l *Link) ColorMode() string { return "rgb" }

// Manufacturer returns the mirrored manufacturer name, if known.
func (l *Link) Manufacturer() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.manufacturer
}

// Firmware returns the mirrored firmware revision, if known.
func (l *Link) Firmware() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firmware
}

// Model returns the mirrored model number, if known.
func (l *Link) Model() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model
}
