// Package pairing implements the Wi-Fi channel: the relay-based pairing
// handshake, reconnection with a stored token, and the HTTP upload
// transport used once a LAN address is known.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/redshiftplayer/redshift-sync/logging"
	"github.com/redshiftplayer/redshift-sync/store"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// ErrPairingDeclined means the relay closed the conversation before the
// device confirmed.
var ErrPairingDeclined = errors.New("pairing declined or timed out")

// message is the relay conversation envelope. One schema both ways.
type message struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	UDID    string `json:"udid,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Relay message types.
const (
	msgSession      = "session"
	msgDeviceExists = "device-exists"
	msgConfirm      = "confirm"
	msgPaired       = "paired"
)

// Client drives pairing conversations against the relay.
type Client struct {
	relayURL string
	devices  *store.DeviceStore
	dialer   *websocket.Dialer
	http     *http.Client

	// OnCode is invoked with the short numeric code the user must enter on
	// the device. Nil is fine for tests.
	OnCode func(code string)
}

// NewClient creates a pairing client for the given relay endpoint.
func NewClient(relayURL string, devices *store.DeviceStore) *Client {
	return &Client{
		relayURL: relayURL,
		devices:  devices,
		dialer:   websocket.DefaultDialer,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// wsURL converts the relay base URL to its websocket form.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/pair"
	return u.String(), nil
}

// Pair runs the full handshake: open a session, surface the numeric code,
// wait for the device to appear, confirm it, and persist the resulting LAN
// address and authorization token.
func (c *Client) Pair(ctx context.Context) (*store.PairedDevice, error) {
	l := logging.Sub("pairing")

	wsURL, err := c.wsURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline) //nolint:errcheck
	}

	var sess message
	if err := conn.ReadJSON(&sess); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if sess.Type != msgSession || sess.Code == "" {
		return nil, fmt.Errorf("unexpected relay message %q", sess.Type)
	}
	l.Info("pairing session open", "code", sess.Code)
	if c.OnCode != nil {
		c.OnCode(sess.Code)
	}

	var exists message
	if err := conn.ReadJSON(&exists); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingDeclined, err)
	}
	if exists.Type != msgDeviceExists || exists.UDID == "" {
		return nil, fmt.Errorf("unexpected relay message %q", exists.Type)
	}
	l.Info("device announced", "udid", exists.UDID, "name", exists.Name)

	if err := conn.WriteJSON(message{Type: msgConfirm, UDID: exists.UDID}); err != nil {
		return nil, fmt.Errorf("send confirm: %w", err)
	}

	var paired message
	if err := conn.ReadJSON(&paired); err != nil {
		return nil, fmt.Errorf("read pairing result: %w", err)
	}
	if paired.Type != msgPaired || paired.Address == "" || paired.Token == "" {
		return nil, fmt.Errorf("unexpected relay message %q", paired.Type)
	}

	d := store.PairedDevice{
		UDID:       exists.UDID,
		Name:       exists.Name,
		AuthToken:  paired.Token,
		LANAddress: paired.Address,
		PairedAt:   nowFunc().Unix(),
	}
	if err := c.devices.Save(d); err != nil {
		return nil, fmt.Errorf("persist pairing: %w", err)
	}
	l.Info("paired", "udid", d.UDID, "address", d.LANAddress)
	return &d, nil
}
