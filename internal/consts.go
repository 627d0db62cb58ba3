package internal

const (
	AppName = "halfpipe"
	Version = "0.2.0"
	// DefaultKeysDir holds ca/, server/ and client/ key material, the layout
	// written by the gencerts command.
	DefaultKeysDir = "keys"
)
