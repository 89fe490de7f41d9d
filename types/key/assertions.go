package key

var (
	_ publicKey = NodePublic{}

	_ privateKey[NodePublic] = NodePrivate{}

	// We need this to write keys into configuration files.
	_ canTextMarshal = &NodePublic{}
	_ canTextMarshal = &NodePrivate{}
	_ canTextMarshal = &Preshared{}

	_ key = Preshared{}
)
