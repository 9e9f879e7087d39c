// Package discovery finds Cast receivers on the local network via mDNS.
// It is an external collaborator to cast.Channel (spec.md §1 explicitly
// scopes device discovery out of the core) but is supplemented here because
// a complete client needs some way to find a host:port to connect to.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// Service is the mDNS service type Cast receivers advertise.
const Service = "_googlecast._tcp"

// Device is one discovered receiver, with the TXT-record fields the Cast
// protocol publishes (friendly name, model, id).
type Device struct {
	Name         string
	Address      net.IP
	Port         int
	ID           string
	FriendlyName string
	ModelName    string
}

// Config tunes the mDNS query; grounded on mdns/mdns.go's own Config shape.
type Config struct {
	UseIPv6      bool
	QueryTimeout time.Duration
}

// Client browses for Cast receivers. Grounded on ValiantChip-osp/mdns/mdns.go
// (Client.FindDevices/FindDevice/ServiceEntryToDevice), renamed for Cast's
// real service name and TXT keys (id=, fn=, md= rather than Open Screen's
// at=).
type Client struct {
	config Config
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{config: cfg, logger: logger}
}

// Browse runs a single mDNS query for ctx's remaining duration (or the
// client's configured timeout, whichever is shorter) and returns every
// receiver that answered.
func (c *Client) Browse(ctx context.Context) ([]Device, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var devices []Device
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range entries {
			devices = append(devices, c.serviceEntryToDevice(e))
		}
	}()

	queryCtx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	err := mdns.QueryContext(queryCtx, &mdns.QueryParam{
		Service:     Service,
		DisableIPv6: !c.config.UseIPv6,
		Entries:     entries,
		Timeout:     c.config.QueryTimeout,
	})
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns query: %w", err)
	}
	return devices, nil
}

// Find runs one full Browse and returns the first discovered device whose
// friendly name or mDNS instance name matches name; it does not stop the
// query early when a match arrives.
func (c *Client) Find(ctx context.Context, name string) (*Device, error) {
	devices, err := c.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name || d.FriendlyName == name {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("discovery: no device named %q found", name)
}

func (c *Client) serviceEntryToDevice(s *mdns.ServiceEntry) Device {
	id, _ := findTxtKey("id", s.InfoFields)
	fn, _ := findTxtKey("fn", s.InfoFields)
	md, _ := findTxtKey("md", s.InfoFields)
	return Device{
		Name:         s.Name,
		Address:      c.address(s),
		Port:         s.Port,
		ID:           id,
		FriendlyName: fn,
		ModelName:    md,
	}
}

func (c *Client) address(s *mdns.ServiceEntry) net.IP {
	if c.config.UseIPv6 && s.AddrV6IPAddr != nil {
		return s.AddrV6IPAddr.IP
	}
	return s.AddrV4
}

// findTxtKey looks up key=value within a TXT record's fields, matching
// mdns/mdns.go's FindTxtKey.
func findTxtKey(key string, record []string) (string, bool) {
	for _, r := range record {
		kv := strings.SplitN(r, "=", 2)
		if kv[0] == key {
			if len(kv) > 1 {
				return kv[1], true
			}
			return "", true
		}
	}
	return "", false
}
