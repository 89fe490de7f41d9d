package key

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const Len = 32

// NakedKey is the 32-byte underlying key.
//
// Only ever used for public interfaces, very dangerous to use directly, due to the security implications.
type NakedKey [Len]byte

func (n NakedKey) Debug() string {
	return fmt.Sprintf("%x", n)
}

func (n NakedKey) HexString() string {
	return hex.EncodeToString(n[:])
}

// Base64 returns the key in the standard base64 form wireguard configuration files use.
func (n NakedKey) Base64() string {
	return base64.StdEncoding.EncodeToString(n[:])
}

// IsZero reports whether k is the zero value.
func (n NakedKey) IsZero() bool {
	return n == NakedKey{}
}
