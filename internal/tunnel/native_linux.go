//go:build linux

package tunnel

import (
	"fmt"
	"net"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	"github.com/songgao/water"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// newNativeDevice creates a new native TUN device on Linux and configures
// it with netlink.
func newNativeDevice(conf config.TunOptions) (stack.Stack, error) {
	platformSpecificParams := water.PlatformSpecificParams{
		Name: conf.Name,
	}

	dev, err := water.New(water.Config{DeviceType: water.TUN, PlatformSpecificParams: platformSpecificParams})
	if err != nil {
		return nil, err
	}
	ifaceName := dev.Name()

	if err := configureLink(ifaceName, conf); err != nil {
		_ = dev.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"name": ifaceName,
		"mtu":  conf.MTU,
		"ipv4": conf.IPv4,
		"ipv6": conf.IPv6,
	}).Info("TUN device up")
	return stack.NewWaterAdapter(dev), nil
}

func configureLink(ifaceName string, conf config.TunOptions) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("failed to get link: %v", err)
	}

	if err := netlink.LinkSetMTU(link, conf.MTU); err != nil {
		return fmt.Errorf("failed to set MTU: %v", err)
	}
	for _, cidr := range []string{conf.IPv4, conf.IPv6} {
		if cidr == "" {
			continue
		}
		ip, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("invalid address %q: %v", cidr, err)
		}
		ipNet.IP = ip
		if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: ipNet}); err != nil {
			return fmt.Errorf("failed to add address %s: %v", cidr, err)
		}
	}
	if conf.IPv4 == "" && conf.IPv6 == "" {
		log.Warn("No tun addresses configured, assign them to the link manually")
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to set link up: %v", err)
	}
	return nil
}
