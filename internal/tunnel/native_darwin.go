//go:build darwin

package tunnel

import (
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	"github.com/songgao/water"
	log "github.com/sirupsen/logrus"
)

// newNativeDevice creates a utun device with water and configures it with
// ifconfig. The kernel picks the name.
func newNativeDevice(conf config.TunOptions) (stack.Stack, error) {
	dev, err := water.New(water.Config{DeviceType: water.TUN})
	if err != nil {
		return nil, err
	}
	name := dev.Name()

	cmds := [][]string{{name, "mtu", strconv.Itoa(conf.MTU), "up"}}
	for _, cidr := range []string{conf.IPv4, conf.IPv6} {
		if cidr == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			_ = dev.Close()
			return nil, err
		}
		if prefix.Addr().Is4() {
			// point to point: the local address doubles as destination
			cmds = append(cmds, []string{name, "inet", cidr, prefix.Addr().String(), "alias"})
		} else {
			cmds = append(cmds, []string{name, "inet6", "add", cidr})
		}
	}
	for _, args := range cmds {
		if err := runCmd(exec.Command("ifconfig", args...)); err != nil {
			_ = dev.Close()
			return nil, fmt.Errorf("failed to configure %s: %w", name, err)
		}
	}

	log.WithFields(log.Fields{"name": name, "mtu": conf.MTU}).Info("TUN device up")
	return stack.NewWaterAdapter(dev), nil
}
