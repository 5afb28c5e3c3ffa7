package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type note struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

func startServer(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := Connect(srv.ClientURL(), "natsutil-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	nc := startServer(t)

	got := make(chan note, 1)
	sub, err := Subscribe(nc, "docent.test.notes", func(_ context.Context, n note) {
		got <- n
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	want := note{ID: 7, Text: "hello"}
	if err := Publish(context.Background(), nc, "docent.test.notes", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	nc.Flush()

	select {
	case n := <-got:
		if n != want {
			t.Fatalf("got %+v, want %+v", n, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startServer(t)

	got := make(chan note, 2)
	sub, err := Subscribe(nc, "docent.test.mixed", func(_ context.Context, n note) {
		got <- n
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("docent.test.mixed", []byte("{not json"))
	if err := Publish(context.Background(), nc, "docent.test.mixed", note{ID: 1, Text: "good"}); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	select {
	case n := <-got:
		if n.ID != 1 {
			t.Fatalf("got %+v, want the well-formed message", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the well-formed message")
	}
	select {
	case n := <-got:
		t.Fatalf("malformed message was delivered: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTracePropagation(t *testing.T) {
	nc := startServer(t)

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	got := make(chan trace.TraceID, 1)
	sub, err := Subscribe(nc, "docent.test.traced", func(ctx context.Context, _ note) {
		got <- trace.SpanContextFromContext(ctx).TraceID()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(ctx, nc, "docent.test.traced", note{ID: 1}); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	select {
	case id := <-got:
		if id != sc.TraceID() {
			t.Fatalf("trace id = %s, want %s", id, sc.TraceID())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for traced message")
	}
}

func TestConnectRefusesBadURL(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", "natsutil-test"); err == nil {
		t.Fatal("expected connection error")
	}
}
