package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prxssh/dhtnode/internal/dht"
	"github.com/prxssh/dhtnode/internal/krpc"
	"github.com/prxssh/dhtnode/internal/logging"
)

// defaultRouters are the well-known public bootstrap nodes BEP-5
// implementations traditionally join through.
var defaultRouters = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

type bootstrapList []string

func (b *bootstrapList) String() string { return strings.Join(*b, ",") }
func (b *bootstrapList) Set(v string) error {
	*b = append(*b, v)
	return nil
}

func main() {
	var (
		ip        = flag.String("ip", "0.0.0.0", "address to bind the node's UDP socket to")
		port      = flag.Int("port", 42892, "UDP port to bind")
		idHex     = flag.String("id", "", "hex-encoded 20-byte node id (random if omitted)")
		verbose   = flag.Bool("verbose", false, "enable debug logging")
		bootstrap bootstrapList
	)
	flag.Var(&bootstrap, "bootstrap", "bootstrap router host:port (repeatable; defaults to the well-known public routers)")
	flag.Parse()

	logger := logging.New(*verbose)
	slog.SetDefault(logger)

	selfID, err := resolveSelfID(*idHex)
	if err != nil {
		logger.Error("invalid node id", "error", err)
		os.Exit(1)
	}

	routers := []string(bootstrap)
	if len(routers) == 0 {
		routers = defaultRouters
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	bootstrapAddrs := resolveBootstrapAddrs(ctx, routers)
	cancel()
	if len(bootstrapAddrs) == 0 {
		logger.Warn("no bootstrap router resolved; starting with an empty table")
	}

	node, err := dht.New(dht.Config{
		SelfID:     selfID,
		ListenAddr: &net.UDPAddr{IP: net.ParseIP(*ip), Port: *port},
		Bootstrap:  bootstrapAddrs,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}
	defer node.Close()

	logger.Info("node listening", "addr", node.LocalAddr(), "id", selfID.String())

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		close(stop)
	}()

	node.Run(stop)
}

func resolveSelfID(idHex string) (krpc.NodeID, error) {
	if idHex == "" {
		var id krpc.NodeID
		if _, err := rand.Read(id[:]); err != nil {
			return id, err
		}
		return id, nil
	}
	return decodeHexID(idHex)
}

func decodeHexID(s string) (krpc.NodeID, error) {
	var id krpc.NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	return krpc.NodeIDFromBytes(b)
}
