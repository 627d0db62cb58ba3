// Package tunnel runs the long lived client and server services. Both
// load the node identity, bring up the local packet channel and hand every
// established connection to a session.
package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/netip"
	"sync"

	"github.com/Diniboy1123/halfpipe/internal/bridge"
	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/Diniboy1123/halfpipe/internal/identity"
	"github.com/Diniboy1123/halfpipe/internal/session"
	"github.com/Diniboy1123/halfpipe/internal/stack"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/tun/netstack"
)

// Options adjust how a service is built.
type Options struct {
	// Stack, if set, is used as the local packet channel instead of the
	// configured one. The service does not close it.
	Stack core.PacketConn
	// Log is the parent entry for all log lines of the service.
	Log *log.Entry
}

// service holds what the client and the server have in common.
type service struct {
	tag  string
	conf *config.Config
	opts Options
	log  *log.Entry

	ctx    context.Context
	cancel context.CancelFunc

	localStack core.PacketConn // owned, closed on stop
	demux      *stack.Demux    // set when every stream shares the local stack
	tunNet     *netstack.Net
	buffers    *quictun.NetBuffer

	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func newService(ctx context.Context, tag string, conf *config.Config, opts Options) *service {
	ctx, cancel := context.WithCancel(ctx)
	entry := opts.Log
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	return &service{
		tag:     tag,
		conf:    conf,
		opts:    opts,
		log:     entry.WithField("inbound", tag),
		ctx:     ctx,
		cancel:  cancel,
		buffers: quictun.NewNetBuffer(conf.Tunnel.MaxPacket + bridge.HeaderLen),
		done:    make(chan struct{}),
	}
}

func (s *service) Tag() string {
	return s.tag
}

func (s *service) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the service stopped with. It is only meaningful
// once Done is closed.
func (s *service) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Net returns the userspace network of the netstack stack, nil for the
// other stacks. Connections dialed through it travel the tunnel.
func (s *service) Net() *netstack.Net {
	return s.tunNet
}

func (s *service) quicConfig() *quic.Config {
	return quictun.DefaultQuicConfig(s.conf.QuicOptions())
}

func (s *service) sessionOptions() session.Options {
	return session.Options{
		MaxPacket: s.conf.Tunnel.MaxPacket,
		Buffers:   s.buffers,
		Log:       s.log,
	}
}

// stop runs the service specific teardown once, closes the owned stack and
// marks the service done with cause.
func (s *service) stop(cause error, teardown func() error) {
	s.stopOnce.Do(func() {
		// connections are closed before the context is cancelled so the
		// peer sees an application close rather than reset streams
		var errs *multierror.Error
		if teardown != nil {
			if err := teardown(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		s.cancel()
		if s.demux != nil {
			_ = s.demux.Close()
		}
		if s.localStack != nil {
			if err := s.localStack.Close(); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("close local stack: %w", err))
			}
		}
		if err := errs.ErrorOrNil(); err != nil {
			s.log.WithError(err).Warn("Errors while shutting down")
		}

		s.err = cause
		close(s.done)
		if cause != nil {
			s.log.WithError(cause).Error("Inbound stopped")
		} else {
			s.log.Info("Inbound stopped")
		}
	})
}

// buildTLS loads the identity and builds the TLS configuration for role.
func buildTLS(conf *config.Config, role tlsconf.Role) (*tls.Config, error) {
	cred, anchor, err := loadIdentity(conf.Identity)
	if err != nil {
		return nil, err
	}
	return tlsconf.Build(role, cred, anchor, conf.Tunnel.Protocol)
}

func loadIdentity(opts config.IdentityOptions) (*identity.Credential, *identity.TrustAnchor, error) {
	if opts.PKCS12 == "" {
		return identity.Load(identity.Paths{Cert: opts.Cert, Key: opts.Key, CA: opts.CA})
	}
	cred, err := identity.LoadPKCS12(opts.PKCS12, opts.PKCS12Password)
	if err != nil {
		return nil, nil, err
	}
	anchor, err := identity.LoadTrustAnchor(opts.CA)
	if err != nil {
		return nil, nil, err
	}
	return cred, anchor, nil
}

// openChannels creates the local stack and the channel source sessions
// use. A server echo stack gets a fresh echo per stream so that one peer
// finishing its stream does not end the echo for the others. Every other
// stack is shared by all streams through a demux.
func (s *service) openChannels(role tlsconf.Role) (session.ChannelSource, error) {
	if s.opts.Stack != nil {
		return s.shared(s.opts.Stack), nil
	}

	tunConf := s.conf.Tun
	var err error
	switch tunConf.Stack {
	case config.StackEcho:
		if role == tlsconf.RoleServer {
			return session.PerStream(func() core.PacketConn {
				return stack.NewEcho(stack.DefaultQueueSize)
			}), nil
		}
		s.localStack = stack.NewEcho(stack.DefaultQueueSize)
	case config.StackSystem:
		s.localStack, err = newNativeDevice(tunConf)
	case config.StackNetstack:
		s.localStack, s.tunNet, err = newNetstack(tunConf)
	default:
		return nil, fmt.Errorf("unknown stack type: %s", tunConf.Stack)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create local stack: %w", err)
	}
	s.log.WithField("stack", tunConf.Stack).Debug("Local stack ready")
	return s.shared(s.localStack), nil
}

func (s *service) shared(pc core.PacketConn) session.ChannelSource {
	s.demux = stack.NewDemux(pc, s.conf.Tunnel.MaxPacket)
	return session.Shared(s.demux)
}

// newNetstack creates a userspace TUN with the configured addresses.
func newNetstack(conf config.TunOptions) (stack.Stack, *netstack.Net, error) {
	addrs, err := tunAddresses(conf)
	if err != nil {
		return nil, nil, err
	}
	dev, tunNet, err := netstack.CreateNetTUN(addrs, nil, conf.MTU)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create netstack device: %w", err)
	}
	return stack.NewNetstackAdapter(dev), tunNet, nil
}

// tunAddresses returns the interface addresses of conf without prefix.
func tunAddresses(conf config.TunOptions) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, cidr := range []string{conf.IPv4, conf.IPv6} {
		if cidr == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, prefix.Addr())
	}
	return addrs, nil
}
