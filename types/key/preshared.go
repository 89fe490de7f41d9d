package key

import (
	"crypto/subtle"

	"go4.org/mem"
)

// Preshared is the optional symmetric key mixed into the handshake.
type Preshared struct {
	key NakedKey
}

func ParsePresharedBase64(s string) (Preshared, error) {
	var ret Preshared

	if err := parseBase64(&ret.key, s); err != nil {
		return Preshared{}, err
	}

	return ret, nil
}

func PresharedFrom(key NakedKey) Preshared {
	return Preshared{key: key}
}

func (p Preshared) Equal(other Preshared) bool {
	return subtle.ConstantTimeCompare(p.key[:], other.key[:]) == 1
}

func (p Preshared) IsZero() bool {
	return p.Equal(Preshared{})
}

// Bytes returns a copy of the key.
func (p Preshared) Bytes() []byte {
	b := p.key
	return b[:]
}

func (p Preshared) Base64() string {
	return p.key.Base64()
}

func (p Preshared) MarshalText() ([]byte, error) {
	return appendHexKey(nil, presharedHexPrefix, p.key[:]), nil
}

func (p *Preshared) UnmarshalText(b []byte) error {
	return parseHex(p.key[:], mem.B(b), mem.S(presharedHexPrefix))
}
