package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/retry"
	"golang.org/x/sync/errgroup"
)

// resolveBootstrapAddrs resolves a list of "host:port" router addresses
// concurrently, retrying each lookup with backoff since public bootstrap
// routers' DNS is notoriously flaky right after process start. A host that
// never resolves is dropped rather than failing the whole run — one bad
// router shouldn't block a join against the rest.
func resolveBootstrapAddrs(ctx context.Context, hosts []string) []*net.UDPAddr {
	addrs := make([]*net.UDPAddr, len(hosts))

	g, ctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			addr, err := resolveOne(ctx, host)
			if err != nil {
				return nil // dropped, not fatal; see doc comment
			}
			addrs[i] = addr
			return nil
		})
	}
	g.Wait()

	out := addrs[:0]
	for _, a := range addrs {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

func resolveOne(ctx context.Context, host string) (*net.UDPAddr, error) {
	var addr *net.UDPAddr
	err := retry.Do(ctx, func(ctx context.Context) error {
		resolved, err := net.ResolveUDPAddr("udp4", host)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", host, err)
		}
		addr = resolved
		return nil
	}, retry.WithExponentialBackoff(4, 200*time.Millisecond, 2*time.Second)...)
	return addr, err
}
