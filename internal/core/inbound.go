package core

// Inbound is the interface for the long running tunnel services.
// A client inbound dials the remote endpoint and bridges its local TUN
// over one stream; a server inbound listens and bridges every accepted
// stream into its local TUN.
type Inbound interface {
	// Start begins the service. It should be non-blocking.
	Start() error
	// Close gracefully shuts down the service.
	Close() error
	// Tag returns the unique tag for this inbound.
	Tag() string
	// Done is closed once the service stopped on its own or after Close.
	Done() <-chan struct{}
	// Err returns the error the service stopped with, if any.
	Err() error
}
