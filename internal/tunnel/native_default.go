//go:build !linux && !windows && !darwin

package tunnel

import (
	"errors"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/stack"
)

// newNativeDevice is a placeholder for unsupported platforms.
func newNativeDevice(config.TunOptions) (stack.Stack, error) {
	return nil, errors.New("native tun is not supported on this platform, use the netstack stack")
}
