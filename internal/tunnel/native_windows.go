//go:build windows

package tunnel

import (
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	log "github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/tun"
)

// newNativeDevice creates a new native TUN device on Windows using wintun
// and assigns the addresses with netsh.
func newNativeDevice(conf config.TunOptions) (stack.Stack, error) {
	dev, err := tun.CreateTUN(conf.Name, conf.MTU)
	if err != nil {
		return nil, err
	}

	ifaceName, err := dev.Name()
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	for _, cidr := range []string{conf.IPv4, conf.IPv6} {
		if cidr == "" {
			continue
		}
		if err := setAddress(ifaceName, cidr); err != nil {
			_ = dev.Close()
			return nil, err
		}
	}

	log.WithFields(log.Fields{"name": ifaceName, "mtu": conf.MTU}).Info("TUN device up")
	return stack.NewNetstackAdapter(dev), nil
}

func setAddress(ifaceName, cidr string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return err
	}
	var cmd *exec.Cmd
	if prefix.Addr().Is4() {
		cmd = exec.Command("netsh", "interface", "ipv4", "set", "address", "name="+ifaceName,
			"static", prefix.Addr().String(), prefixMask(prefix.Bits()))
	} else {
		cmd = exec.Command("netsh", "interface", "ipv6", "set", "address", ifaceName,
			prefix.Addr().String()+"/"+strconv.Itoa(prefix.Bits()))
	}
	if err := runCmd(cmd); err != nil {
		return fmt.Errorf("failed to set address %s: %w", cidr, err)
	}
	return nil
}

// prefixMask formats an IPv4 prefix length as a dotted netmask.
func prefixMask(bits int) string {
	var m uint32
	if bits > 0 {
		m = ^uint32(0) << (32 - bits)
	}
	return fmt.Sprintf("%d.%d.%d.%d", byte(m>>24), byte(m>>16), byte(m>>8), byte(m))
}
