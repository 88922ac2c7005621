// Package wiz talks to WiZ bulbs over their local UDP JSON protocol.
package wiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/fluxd/internal/color"
	"github.com/dokzlo13/fluxd/internal/device"
)

// DefaultPort is the UDP port WiZ bulbs listen on.
const DefaultPort = 38899

const (
	defaultTimeout = 2 * time.Second
	maxDatagram    = 4096
)

// Client is a single WiZ bulb.
type Client struct {
	address string
	limiter *rate.Limiter
	dialer  net.Dialer
}

var _ device.Light = (*Client)(nil)

// NewClient creates a client for address ("host" or "host:port").
// rps bounds the datagram rate to this bulb; 0 means 5 per second.
func NewClient(address string, rps float64) *Client {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(DefaultPort))
	}
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		address: address,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Address returns host:port of the bulb.
func (c *Client) Address() string {
	return c.address
}

// Probe asks the bulb for its system config.
func (c *Client) Probe(ctx context.Context) error {
	var cfg systemConfig
	if err := c.call(ctx, "getSystemConfig", map[string]any{}, &cfg); err != nil {
		return err
	}
	log.Debug().Str("device", c.address).Str("mac", cfg.Mac).Str("module", cfg.ModuleName).Msg("Probe ok")
	return nil
}

// Apply sends a setPilot for cmd.
func (c *Client) Apply(ctx context.Context, cmd device.Command) error {
	params, err := pilotParams(cmd)
	if err != nil {
		return err
	}

	var res setResult
	if err := c.call(ctx, "setPilot", params, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s: %w: setPilot not acknowledged", c.address, device.ErrRejected)
	}
	return nil
}

// Query reads the current pilot state.
func (c *Client) Query(ctx context.Context) (device.Reported, error) {
	var p pilot
	if err := c.call(ctx, "getPilot", map[string]any{}, &p); err != nil {
		return device.Reported{}, err
	}
	return p.reported(), nil
}

func pilotParams(cmd device.Command) (map[string]any, error) {
	params := map[string]any{"state": true}

	switch cmd.Color.Mode {
	case color.ModeNative:
		params["temp"] = cmd.Color.Kelvin
	case color.ModeRGBW:
		params["r"] = cmd.Color.Red
		params["g"] = cmd.Color.Green
		params["b"] = cmd.Color.Blue
		params["w"] = cmd.Color.Warm
		params["c"] = cmd.Color.Cold
	default:
		return nil, fmt.Errorf("%w: cannot apply %s color", device.ErrRejected, cmd.Color.Mode)
	}

	if cmd.Brightness > 0 {
		params["dimming"] = device.DimmingPercent(cmd.Brightness)
	}
	return params, nil
}

// call sends one request datagram and waits for the matching response.
func (c *Client) call(ctx context.Context, method string, params map[string]any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w: %w", c.address, device.ErrUnreachable, err)
	}

	payload, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	conn, err := c.dialer.DialContext(ctx, "udp", c.address)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", c.address, device.ErrUnreachable, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("%s: %w: %w", c.address, device.ErrUnreachable, err)
	}

	buf := make([]byte, maxDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%s: %w: %s timed out", c.address, device.ErrUnreachable, method)
			}
			return fmt.Errorf("%s: %w: %w", c.address, device.ErrUnreachable, err)
		}

		var resp response
		if err := json.Unmarshal(buf[:n], &resp); err != nil {
			log.Debug().Err(err).Str("device", c.address).Msg("Ignoring malformed datagram")
			continue
		}
		if resp.Method != "" && resp.Method != method {
			// stale reply to an earlier request
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w: %s (code %d)", c.address, device.ErrRejected, resp.Error.Message, resp.Error.Code)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: failed to decode %s result: %w", c.address, method, err)
		}
		return nil
	}
}
