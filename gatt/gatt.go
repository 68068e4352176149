// Package gatt implements the link's transport contracts on top of the
// rigado/ble central stack.
package gatt

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/ble"
	"github.com/rigado/ble/linux"

	"github.com/lightlink/hilighting"
	"github.com/lightlink/hilighting/cache"
)

const (
	DefaultScanTimeout = 10 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

// Dialer owns the host's BLE adapter and builds sessions against
// peripherals. It satisfies hilighting.Dialer.
type Dialer struct {
	dev         ble.Device
	hci         int
	scanTimeout time.Duration
	dialTimeout time.Duration
	catalog     *cache.Store
	log         hilighting.Logger
}

// An Option is a configuration function, which configures the Dialer.
type Option func(*Dialer) error

// WithHCI selects the hci socket index to use for the host adapter.
func WithHCI(id int) Option {
	return func(d *Dialer) error {
		if id < 0 {
			return errors.New("hci index must not be negative")
		}
		d.hci = id
		return nil
	}
}

// WithScanTimeout bounds how long Resolve scans for the address before
// reporting the device as not found.
func WithScanTimeout(t time.Duration) Option {
	return func(d *Dialer) error {
		d.scanTimeout = t
		return nil
	}
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(t time.Duration) Option {
	return func(d *Dialer) error {
		d.dialTimeout = t
		return nil
	}
}

// WithCatalog enables the cached-service-catalog mode: sessions load
// the peripheral's characteristic layout from the store instead of
// running service discovery, and repopulate it after a forced refresh.
func WithCatalog(s *cache.Store) Option {
	return func(d *Dialer) error {
		d.catalog = s
		return nil
	}
}

func NewDialer(opts ...Option) (*Dialer, error) {
	d := &Dialer{
		hci:         -1,
		scanTimeout: DefaultScanTimeout,
		dialTimeout: DefaultDialTimeout,
		log:         hilighting.GetLogger().ChildLogger(map[string]interface{}{"component": "gatt"}),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	var devOpts []ble.Option
	if d.hci >= 0 {
		devOpts = append(devOpts, ble.OptTransportHCISocket(d.hci))
	}

	dev, err := linux.NewDevice(devOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "can't open host adapter")
	}
	ble.SetDefaultDevice(dev)
	d.dev = dev

	return d, nil
}

type peripheral struct {
	addr hilighting.Addr
	name string
}

func (p *peripheral) Addr() hilighting.Addr { return p.addr }
func (p *peripheral) Name() string          { return p.name }

// Resolve scans for an advertisement from the given address. A scan
// that completes without seeing the address is a permanent addressing
// failure, not a transient one.
func (d *Dialer) Resolve(a hilighting.Addr) (hilighting.Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.scanTimeout)
	defer cancel()

	found := make(chan ble.Advertisement, 1)
	h := func(adv ble.Advertisement) {
		select {
		case found <- adv:
			cancel()
		default:
		}
	}
	filter := func(adv ble.Advertisement) bool {
		return strings.EqualFold(adv.Addr().String(), a.String())
	}

	err := ble.Scan(ctx, false, h, filter)

	select {
	case adv := <-found:
		return &peripheral{addr: a, name: adv.LocalName()}, nil
	default:
	}

	if err != nil && ctx.Err() == nil {
		return nil, &hilighting.BusError{Op: "scan", Err: err}
	}

	return nil, errors.Wrapf(hilighting.ErrDeviceNotFound, "%s not seen within %s", a, d.scanTimeout)
}

func (d *Dialer) Dial(dev hilighting.Device, name string, onDisconnect func()) (hilighting.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.dialTimeout)
	defer cancel()

	cln, err := d.dev.Dial(ctx, ble.NewAddr(dev.Addr().String()))
	if err != nil {
		return nil, hilighting.Transient(errors.Wrapf(err, "dial %s", dev.Addr()))
	}

	s := &session{
		client:  cln,
		addr:    dev.Addr(),
		catalog: d.catalog,
		log:     d.log,
	}
	s.alive.Store(true)

	go func() {
		<-cln.Disconnected()
		s.alive.Store(false)
		if onDisconnect != nil {
			onDisconnect()
		}
	}()

	if err := s.populate(); err != nil {
		// The session is still returned: the caller refreshes services
		// once and otherwise lets the write path surface the failure.
		d.log.Warnf("service discovery for %s failed: %v", name, err)
	}

	return s, nil
}

type characteristic struct {
	c *ble.Characteristic
}

func (c *characteristic) UUID() string { return c.c.UUID.String() }

type session struct {
	client  ble.Client
	addr    hilighting.Addr
	catalog *cache.Store
	log     hilighting.Logger
	alive   atomic.Bool

	mu    sync.Mutex
	chars map[string]*ble.Characteristic
}

// normalizeUUID strips dashes and lowercases, matching the form
// rigado/ble prints UUIDs in.
func normalizeUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}

func (s *session) IsConnected() bool { return s.alive.Load() }

func (s *session) Characteristic(uuid string) hilighting.Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chars[normalizeUUID(uuid)]
	if !ok {
		return nil
	}
	return &characteristic{c: c}
}

func (s *session) RefreshServices() error {
	p, err := s.client.DiscoverProfile(true)
	if err != nil {
		return &hilighting.BusError{Op: "service discovery", Err: err}
	}

	s.index(p)
	s.storeCatalog()
	return nil
}

func (s *session) Write(c hilighting.Characteristic, p []byte) error {
	ch, ok := c.(*characteristic)
	if !ok {
		return errors.Errorf("foreign characteristic %T", c)
	}

	if err := s.client.WriteCharacteristic(ch.c, p, true); err != nil {
		return hilighting.Transient(errors.Wrap(err, "write"))
	}
	return nil
}

func (s *session) Read(c hilighting.Characteristic) ([]byte, error) {
	ch, ok := c.(*characteristic)
	if !ok {
		return nil, errors.Errorf("foreign characteristic %T", c)
	}

	b, err := s.client.ReadCharacteristic(ch.c)
	if err != nil {
		return nil, hilighting.Transient(errors.Wrap(err, "read"))
	}
	return b, nil
}

func (s *session) Disconnect() error {
	return s.client.CancelConnection()
}

// populate fills the characteristic index, from the cached catalog
// when one is available, otherwise via service discovery.
func (s *session) populate() error {
	if s.catalog != nil {
		if cat, err := s.catalog.Load(s.addr); err == nil {
			s.indexCached(cat)
			s.log.Debugf("using cached service catalog for %s", s.addr)
			return nil
		}
	}

	p, err := s.client.DiscoverProfile(false)
	if err != nil {
		return &hilighting.BusError{Op: "service discovery", Err: err}
	}

	s.index(p)
	s.storeCatalog()
	return nil
}

func (s *session) index(p *ble.Profile) {
	chars := make(map[string]*ble.Characteristic)
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			chars[normalizeUUID(c.UUID.String())] = c
		}
	}

	s.mu.Lock()
	s.chars = chars
	s.mu.Unlock()
}

func (s *session) indexCached(cat cache.Catalog) {
	chars := make(map[string]*ble.Characteristic, len(cat.Characteristics))
	for uuid, handle := range cat.Characteristics {
		c := ble.NewCharacteristic(ble.MustParse(uuid))
		c.ValueHandle = handle
		chars[normalizeUUID(uuid)] = c
	}

	s.mu.Lock()
	s.chars = chars
	s.mu.Unlock()
}

func (s *session) storeCatalog() {
	if s.catalog == nil {
		return
	}

	cat := cache.Catalog{Characteristics: make(map[string]uint16)}
	s.mu.Lock()
	for uuid, c := range s.chars {
		cat.Characteristics[uuid] = c.ValueHandle
	}
	s.mu.Unlock()

	if err := s.catalog.Store(s.addr, cat, true); err != nil {
		s.log.Debugf("catalog cache store failed: %v", err)
	}
}
