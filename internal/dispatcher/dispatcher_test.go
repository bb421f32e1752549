package dispatcher

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prxssh/dhtnode/internal/krpc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}, testLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDispatcher_RoundTripProducesExactlyOneResponse(t *testing.T) {
	a := mustDispatcher(t)
	b := mustDispatcher(t)

	builderA := krpc.NewBuilder([20]byte{1})
	builderB := krpc.NewBuilder([20]byte{2})

	var gotEvents []EventType
	b.SetUpstream(func(ev Event) {
		if ev.Type == EventRequest && ev.Remote.IsQuery() {
			resp := builderB.PingResponse(ev.Remote.TxID)
			b.Reply(resp, ev.Remote.From)
		}
	})
	a.SetUpstream(func(ev Event) {
		gotEvents = append(gotEvents, ev.Type)
	})

	ping := builderA.Ping()
	if err := a.Send(ping, b.LocalAddr(), nil, true, 3*time.Second); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		b.Step()
		a.Step()
		if len(gotEvents) > 0 {
			break
		}
	}

	if len(gotEvents) == 0 {
		t.Fatal("no event observed on requester side")
	}
	if gotEvents[0] != EventResponse {
		t.Fatalf("first event = %v, want response", gotEvents[0])
	}
	for _, e := range gotEvents[1:] {
		if e == EventTimeout {
			t.Fatal("got a timeout after an already-resolved response")
		}
	}
}

func TestDispatcher_WaitResponseReturnsResolvingEvent(t *testing.T) {
	a := mustDispatcher(t)
	b := mustDispatcher(t)

	builderA := krpc.NewBuilder([20]byte{3})
	builderB := krpc.NewBuilder([20]byte{4})

	b.SetUpstream(func(ev Event) {
		if ev.Type == EventRequest && ev.Remote.IsQuery() {
			resp := builderB.PingResponse(ev.Remote.TxID)
			b.Reply(resp, ev.Remote.From)
		}
	})

	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			b.Step()
		}
	}()

	ping := builderA.Ping()
	if err := a.Send(ping, b.LocalAddr(), nil, true, 3*time.Second); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	ev := a.WaitResponse(ping.TxID)
	if ev.Type != EventResponse {
		t.Fatalf("WaitResponse returned %v, want response", ev.Type)
	}
	if ev.Local == nil || ev.Local.TxID != ping.TxID {
		t.Fatalf("resolved event has wrong local request: %+v", ev.Local)
	}
}

func TestDispatcher_TimeoutWithNoReply(t *testing.T) {
	a := mustDispatcher(t)
	unreachable := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}

	builderA := krpc.NewBuilder([20]byte{5})
	ping := builderA.Ping()
	if err := a.Send(ping, unreachable, nil, true, 1*time.Second); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	ev := a.WaitResponse(ping.TxID)
	if ev.Type != EventTimeout {
		t.Fatalf("got %v, want timeout", ev.Type)
	}
}
