package hilighting

// Characteristic is an opaque reference into a session's service
// catalog, valid only for the session that produced it.
type Characteristic interface {
	UUID() string
}

// Session is an established connection to the peripheral. All methods
// may be called from multiple goroutines.
type Session interface {
	// IsConnected reports whether the underlying transport still
	// considers the connection live.
	IsConnected() bool

	// Characteristic looks up a characteristic reference by UUID.
	// It returns nil if the UUID is not present in the catalog.
	Characteristic(uuid string) Characteristic

	// RefreshServices forces a fresh service catalog fetch from the
	// peripheral, discarding any cached catalog.
	RefreshServices() error

	// Write writes p to the characteristic without response.
	Write(c Characteristic, p []byte) error

	// Read reads the characteristic's value.
	Read(c Characteristic) ([]byte, error)

	// Disconnect tears the connection down.
	Disconnect() error
}

// Device is a connectable handle supplied by the platform's
// device-resolution layer for a known address.
type Device interface {
	Addr() Addr
	Name() string
}

// Dialer resolves addresses into device handles and establishes
// sessions against them. Implementations wrap transient connect
// failures with Transient (or *BusError) and return ErrDeviceNotFound
// for addresses unknown to the platform.
type Dialer interface {
	Resolve(a Addr) (Device, error)

	// Dial connects to dev. onDisconnect, if non-nil, is invoked once
	// when the session drops, whether self-initiated or not.
	Dial(dev Device, name string, onDisconnect func()) (Session, error)
}
