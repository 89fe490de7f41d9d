package tunnel

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/wgtun/types/key"
	"go4.org/netipx"
)

// DefaultKeepalive is the persistent keepalive interval, in seconds, used when a config does not set one.
const DefaultKeepalive uint16 = 5

// RawConfig is a peer configuration as it's written down, with keys in wireguard's base64 form.
type RawConfig struct {
	PrivateKey string `json:"private_key" yaml:"private_key"`
	PublicKey  string `json:"public_key" yaml:"public_key"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Address    string `json:"address" yaml:"address"`

	PresharedKey        string  `json:"preshared_key,omitempty" yaml:"preshared_key,omitempty"`
	PersistentKeepalive *uint16 `json:"persistent_keepalive,omitempty" yaml:"persistent_keepalive,omitempty"`
}

// PeerConfig is the validated configuration of a session with one peer, it does not change after construction.
type PeerConfig struct {
	PrivateKey key.NodePrivate
	PeerPublic key.NodePublic

	// host:port, resolved when the session is opened
	Endpoint string

	// Local address inside the tunnel
	Address netip.Prefix

	PresharedKey gonull.Nullable[key.Preshared]

	// Seconds, DefaultKeepalive when not set, 0 disables it.
	Keepalive gonull.Nullable[uint16]
}

func (c PeerConfig) keepalive() uint16 {
	if c.Keepalive.Valid {
		return c.Keepalive.Val
	}
	return DefaultKeepalive
}

// ParsePeerConfig validates a raw configuration.
func ParsePeerConfig(raw RawConfig) (PeerConfig, error) {
	var cfg PeerConfig
	var err error

	if cfg.PrivateKey, err = key.ParseNodePrivateBase64(raw.PrivateKey); err != nil {
		return PeerConfig{}, fmt.Errorf("private_key: %w", err)
	}

	if cfg.PeerPublic, err = key.ParseNodePublicBase64(raw.PublicKey); err != nil {
		return PeerConfig{}, fmt.Errorf("public_key: %w", err)
	}

	if err = validateEndpoint(raw.Endpoint); err != nil {
		return PeerConfig{}, fmt.Errorf("endpoint: %w", err)
	}
	cfg.Endpoint = raw.Endpoint

	if cfg.Address, err = parseAddress(raw.Address); err != nil {
		return PeerConfig{}, fmt.Errorf("address: %w", err)
	}

	if raw.PresharedKey != "" {
		psk, err := key.ParsePresharedBase64(raw.PresharedKey)
		if err != nil {
			return PeerConfig{}, fmt.Errorf("preshared_key: %w", err)
		}
		cfg.PresharedKey = gonull.NewNullable(psk)
	}

	if raw.PersistentKeepalive != nil {
		cfg.Keepalive = gonull.NewNullable(*raw.PersistentKeepalive)
	}

	return cfg, nil
}

func validateEndpoint(endpoint string) error {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return err
	}

	if host == "" {
		return errors.New("missing host")
	}

	if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
		return fmt.Errorf("invalid port %q", port)
	}

	return nil
}

// parseAddress accepts a prefix, or a bare address which is taken as a single-address prefix.
func parseAddress(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}

	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// AddressNet returns the tunnel address in the form the net package uses.
func (c PeerConfig) AddressNet() *net.IPNet {
	return netipx.PrefixIPNet(c.Address)
}
