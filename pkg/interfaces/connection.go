package interfaces

// Connection is the transport handle the relay routes through. The registry
// keys its state by this handle, so implementations must be comparable
// (the production implementation is a pointer).
type Connection interface {
	// ID returns an opaque identifier assigned by the transport layer,
	// stable for the life of the connection.
	ID() string

	// WriteJSON queues a JSON message for delivery. Thread-safe. Writing to
	// a closed connection returns an error rather than blocking; callers
	// treat failed sends as best-effort losses.
	WriteJSON(v interface{}) error

	// Close tears down the connection. Safe to call more than once.
	Close() error
}
