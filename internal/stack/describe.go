package stack

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Describe returns a short human readable summary of an IP packet for
// trace logging.
func Describe(pkt []byte) string {
	if len(pkt) == 0 {
		return "empty"
	}

	var first gopacket.LayerType
	switch pkt[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return fmt.Sprintf("non-ip len=%d", len(pkt))
	}

	p := gopacket.NewPacket(pkt, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	switch ip := p.NetworkLayer().(type) {
	case *layers.IPv4:
		return fmt.Sprintf("IPv4 %s -> %s %s len=%d", ip.SrcIP, ip.DstIP, ip.Protocol, len(pkt))
	case *layers.IPv6:
		return fmt.Sprintf("IPv6 %s -> %s %s len=%d", ip.SrcIP, ip.DstIP, ip.NextHeader, len(pkt))
	}
	return fmt.Sprintf("malformed ip len=%d", len(pkt))
}
