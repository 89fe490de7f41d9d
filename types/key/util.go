package key

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"go4.org/mem"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	nodePrivateHexPrefix = "privkey:"
	nodePublicHexPrefix  = "pubkey:"
	presharedHexPrefix   = "psk:"
)

// parseBase64 decodes a wireguard-style base64 key into out.
func parseBase64(out *NakedKey, s string) error {
	k, err := wgtypes.ParseKey(s)
	if err != nil {
		return fmt.Errorf("invalid base64 key: %w", err)
	}

	*out = NakedKey(k)

	return nil
}

// parseHex decodes a key from its prefixed hex representation into out.
//
// (Adapted from tailscale)
func parseHex(out []byte, in, prefix mem.RO) error {
	if !mem.HasPrefix(in, prefix) {
		return fmt.Errorf("key hex string doesn't have expected type prefix %s", prefix.StringCopy())
	}
	in = in.SliceFrom(prefix.Len())
	if want := len(out) * 2; in.Len() != want {
		return fmt.Errorf("key hex has the wrong size, got %d want %d", in.Len(), want)
	}
	for i := range out {
		a, ok1 := fromHexChar(in.At(i*2 + 0))
		b, ok2 := fromHexChar(in.At(i*2 + 1))
		if !ok1 || !ok2 {
			return errors.New("invalid hex character in key")
		}
		out[i] = (a << 4) | b
	}

	return nil
}

func appendHexKey(dst []byte, prefix string, key []byte) []byte {
	dst = slices.Grow(dst, len(prefix)+hex.EncodedLen(len(key)))
	dst = append(dst, prefix...)
	return hex.AppendEncode(dst, key)
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}

	return 0, false
}
