package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/abiosoft/ishell/v2"
	"github.com/edup2p/wgtun/tunnel"
	"github.com/edup2p/wgtun/types"
	"github.com/edup2p/wgtun/types/key"
)

var (
	privKey *key.NodePrivate

	session    *tunnel.Session
	sessionCcc context.CancelCauseFunc
)

var errNoSession = errors.New("no session open, use 'open' first")

func runShell() {
	shell := ishell.New()

	shell.SetHomeHistoryPath(".wgtun_history")

	shell.Println("wgtun Interactive Shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "trace",
		Help: "set log level to trace",
		Func: func(c *ishell.Context) {
			programLevel.Set(types.LevelTrace)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "debug",
		Help: "set log level to debug",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelDebug)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "set log level to info",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelInfo)
		},
	})

	shell.AddCmd(keyCmd())

	shell.AddCmd(&ishell.Cmd{
		Name: "open",
		Help: "open and run a session from the config file: [path]",
		Func: func(c *ishell.Context) {
			if session != nil {
				c.Err(errors.New("session already open"))
				return
			}

			path := *configPath
			if len(c.Args) > 0 {
				path = c.Args[0]
			}
			if path == "" {
				c.Err(errors.New("no config path given"))
				return
			}

			raw, err := readConfig(path)
			if err != nil {
				c.Err(err)
				return
			}

			cfg, err := tunnel.ParsePeerConfig(raw)
			if err != nil {
				c.Err(err)
				return
			}

			s, err := tunnel.Open(cfg, tunnel.Options{Events: counter, RateLimit: *rateLimit})
			if err != nil {
				c.Err(err)
				return
			}

			ctx, ccc := context.WithCancelCause(context.Background())
			session, sessionCcc = s, ccc

			s.RegisterStateChangeListener(func(state tunnel.State) {
				c.Println("state:", state)
			})

			go func() {
				if err := s.Run(ctx); err != nil {
					slog.Error("session stopped", "err", err)
				}
			}()

			c.Println("session opened, our public key:", cfg.PrivateKey.Public().Base64())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "close",
		Help: "close the session",
		Func: func(c *ishell.Context) {
			if session == nil {
				c.Err(errNoSession)
				return
			}

			sessionCcc(errors.New("closed from shell"))
			if err := session.Close(); err != nil {
				c.Err(err)
			}
			session = nil
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "hs",
		Help: "initiate a handshake",
		Func: func(c *ishell.Context) {
			if session == nil {
				c.Err(errNoSession)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := session.InitiateHandshake(ctx); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send an IP packet: <hex>",
		Func: func(c *ishell.Context) {
			if session == nil {
				c.Err(errNoSession)
				return
			}
			if len(c.Args) == 0 {
				c.Err(errors.New("no packet given"))
				return
			}

			pkt, err := hex.DecodeString(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := session.SendPayload(ctx, pkt); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "show session counters",
		Func: func(c *ishell.Context) {
			if session == nil {
				c.Err(errNoSession)
				return
			}

			NewStatsJob(context.Background(), session, counter).Run()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "show session state",
		Func: func(c *ishell.Context) {
			if session == nil {
				c.Println("state: no session open")
				return
			}

			cfg := session.Config()
			c.Println("state:", session.CurrentState())
			c.Println("endpoint:", cfg.Endpoint, "address:", cfg.AddressNet())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "selftest",
		Help: "run two sessions against each other in memory, and pass a packet between them",
		Func: func(c *ishell.Context) {
			if err := selfTest(); err != nil {
				c.Err(err)
				return
			}

			c.Println("selftest: ok")
		},
	})

	shell.Run()
}

// Key commands
func keyCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "key",
		Help: "private key generating and reading",
		Func: func(c *ishell.Context) {
			if privKey == nil {
				c.Println("key: nil")
			} else {
				c.Println("key:", privKey.Base64())
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "gen",
		Help: "generate a new key",
		Func: func(c *ishell.Context) {
			k := key.NewNode()
			privKey = &k

			c.Println("key generated:", privKey.Base64())
		},
	})

	c.AddCmd(&ishell.Cmd{Name: "pub", Help: "show the pubkey", Func: func(c *ishell.Context) {
		if privKey != nil {
			c.Println("pub:", privKey.Public().Base64())
		} else {
			c.Err(errors.New("private key not set"))
		}
	}})

	return c
}

func selfTest() error {
	privA, privB := key.NewNode(), key.NewNode()
	apA := netip.MustParseAddrPort("127.0.0.1:1")
	apB := netip.MustParseAddrPort("127.0.0.1:2")

	connA, connB := types.MakeChannelConnPair(apA, apB)

	received := make(chan []byte, 1)

	a, err := tunnel.Open(tunnel.PeerConfig{
		PrivateKey: privA,
		PeerPublic: privB.Public(),
		Endpoint:   apB.String(),
		Address:    netip.MustParsePrefix("10.0.0.1/32"),
	}, tunnel.Options{Conn: connA})
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := tunnel.Open(tunnel.PeerConfig{
		PrivateKey: privB,
		PeerPublic: privA.Public(),
		Endpoint:   apA.String(),
		Address:    netip.MustParsePrefix("10.0.0.2/32"),
		Keepalive:  gonull.NewNullable[uint16](0),
	}, tunnel.Options{
		Conn: connB,
		Delivery: tunnel.DeliveryFunc(func(pkt []byte, ipVersion int) error {
			select {
			case received <- append([]byte(nil), pkt...):
			default:
			}
			return nil
		}),
	})
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go a.Run(ctx)
	go b.Run(ctx)

	// 20 byte IPv4 header, no payload
	pkt, _ := hex.DecodeString("450000140000000040110000" + "0a000001" + "0a000002")

	if err := a.SendPayload(ctx, pkt); err != nil {
		return err
	}

	select {
	case got := <-received:
		if hex.EncodeToString(got) != hex.EncodeToString(pkt) {
			return fmt.Errorf("packet mangled: sent %x, got %x", pkt, got)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no packet received: %w", context.Cause(ctx))
	}
}
