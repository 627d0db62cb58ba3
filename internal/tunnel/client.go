package tunnel

import (
	"context"
	"fmt"

	"github.com/Diniboy1123/halfpipe/internal/config"
	"github.com/Diniboy1123/halfpipe/internal/core"
	"github.com/Diniboy1123/halfpipe/internal/session"
	"github.com/Diniboy1123/halfpipe/internal/tlsconf"
	"github.com/Diniboy1123/halfpipe/internal/transport/quictun"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Client dials the server and bridges the local stack over one stream.
// It stops when that stream ends in both directions, when the connection
// closes or on Close.
type Client struct {
	*service
	endpoint *quictun.Endpoint
	session  *session.Session
}

var _ core.Inbound = (*Client)(nil)

// NewClient creates a client service. Nothing happens until Start.
func NewClient(ctx context.Context, conf *config.Config, opts Options) *Client {
	return &Client{service: newService(ctx, config.RoleClient, conf, opts)}
}

// Start connects to the server. It returns once the handshake completed;
// forwarding runs in the background.
func (c *Client) Start() error {
	c.log.WithField("remote", c.conf.Client.Remote).Info("Starting tunnel client")

	tlsConf, err := buildTLS(c.conf, tlsconf.RoleClient)
	if err != nil {
		return err
	}

	endpoint, err := quictun.NewEndpoint(c.conf.Client.Bind, c.quicConfig())
	if err != nil {
		return err
	}

	conn, err := endpoint.Connect(c.ctx, c.conf.Client.Remote, c.conf.Client.ServerName, tlsConf)
	if err != nil {
		_ = endpoint.Close()
		return err
	}
	c.endpoint = endpoint

	channels, err := c.openChannels(tlsconf.RoleClient)
	if err != nil {
		_ = conn.CloseWithError(quictun.CloseInternal, "local stack failed")
		_ = endpoint.Close()
		return err
	}

	c.session = session.New(conn, tlsconf.RoleClient, channels, c.sessionOptions())
	c.log.WithFields(log.Fields{
		"session": c.session.ID(),
		"server":  c.session.PeerName(),
	}).Info("Connected")

	go c.run()
	return nil
}

func (c *Client) run() {
	err := c.session.Run(c.ctx)
	if err != nil {
		err = fmt.Errorf("tunnel session: %w", err)
	}
	c.stop(err, c.teardown)
}

// teardown closes the connection with "done", which waits for the close
// to go out, and then releases the socket.
func (c *Client) teardown() error {
	var errs *multierror.Error
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	if c.endpoint != nil {
		if err := c.endpoint.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close endpoint: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

// Close stops the client and waits until it is done.
func (c *Client) Close() error {
	c.stop(nil, c.teardown)
	<-c.done
	return nil
}
