package main

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/edup2p/wgtun/tunnel"
	"github.com/edup2p/wgtun/types/key"
	"gopkg.in/yaml.v3"
)

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func loadConfig() tunnel.RawConfig {
	if *configPath == "" {
		log.Fatalf("wgtun: -c <config path> not specified")
	}

	cfg, err := readConfig(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		writeNewConfig(*configPath)
		log.Fatalf("wgtun: wrote new config to %s, fill in the peer's public_key, endpoint, and address", *configPath)
		panic("unreachable")
	case err != nil:
		log.Fatalf("wgtun: config: %v", err)
		panic("unreachable")
	default:
		return cfg
	}
}

func readConfig(path string) (tunnel.RawConfig, error) {
	var cfg tunnel.RawConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(b, &cfg)
	} else {
		err = json.Unmarshal(b, &cfg)
	}

	return cfg, err
}

func marshalConfig(path string, cfg tunnel.RawConfig) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "\t")
}

// writeNewConfig writes a config with a freshly generated private key, and nothing else.
func writeNewConfig(path string) tunnel.RawConfig {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		log.Fatal(err)
	}

	cfg := tunnel.RawConfig{
		PrivateKey: key.NewNode().Base64(),
	}

	b, err := marshalConfig(path, cfg)
	if err != nil {
		log.Fatal(err)
	}

	if err := os.WriteFile(path, b, 0600); err != nil {
		log.Fatal(err)
	}

	return cfg
}
