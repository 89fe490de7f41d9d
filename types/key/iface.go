package key

import (
	"encoding"
)

type key interface {
	IsZero() bool
}

type canTextMarshal interface {
	// We need text encoding for JSON and YAML configuration

	encoding.TextMarshaler
	encoding.TextUnmarshaler
}

type publicKey interface {
	key

	Debug() string
	HexString() string
	Base64() string
}

type privateKey[Pub key] interface {
	key

	Public() Pub
	Base64() string
}
