package rag

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/docent-ai/docent/engine/answer"
	"github.com/docent-ai/docent/engine/embed"
	"github.com/docent-ai/docent/engine/index"
	"github.com/docent-ai/docent/engine/retrieve"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/engine/store"
	"github.com/docent-ai/docent/engine/store/memory"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func publishJob(t *testing.T, nc *nats.Conn, job IngestJob) {
	t.Helper()
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Publish(JobsSubject, data); err != nil {
		t.Fatal(err)
	}
	nc.Flush()
}

func TestConsumer_IngestsJobAndPublishesResult(t *testing.T) {
	nc := startTestNATS(t)
	ps := testPipeline(t)

	sub, err := StartConsumer(nc, ps.pipeline, segment.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	results := make(chan *nats.Msg, 1)
	rsub, err := nc.ChanSubscribe(ResultsSubject, results)
	if err != nil {
		t.Fatal(err)
	}
	defer rsub.Unsubscribe()

	policy := segment.Policy{Kind: segment.SentenceToken, MaxTokens: 5}
	publishJob(t, nc, IngestJob{
		Source: "animals.txt",
		Text:   "Cats are mammals. Dogs are mammals too.",
		Policy: &policy,
	})

	select {
	case msg := <-results:
		var res IngestResult
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		if res.Source != "animals.txt" {
			t.Fatalf("result source = %q, want animals.txt", res.Source)
		}
		if res.Report.ChunkCount != 2 || res.Report.Records != 2 {
			t.Fatalf("unexpected report: %+v", res.Report)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for result")
	}

	if got := ps.store.Len("docs"); got != 2 {
		t.Fatalf("expected 2 records indexed, got %d", got)
	}
}

func TestConsumer_ConfigErrorGoesStraightToDLQ(t *testing.T) {
	nc := startTestNATS(t)
	ps := testPipeline(t)

	sub, err := StartConsumer(nc, ps.pipeline, segment.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	dlq := make(chan *nats.Msg, 1)
	dsub, err := nc.ChanSubscribe(DLQSubject, dlq)
	if err != nil {
		t.Fatal(err)
	}
	defer dsub.Unsubscribe()

	bad := segment.Policy{Kind: segment.FixedWord, Window: 5, Overlap: 5}
	publishJob(t, nc, IngestJob{Source: "bad.txt", Text: "some text", Policy: &bad})

	select {
	case msg := <-dlq:
		var parked DLQMessage
		if err := json.Unmarshal(msg.Data, &parked); err != nil {
			t.Fatalf("unmarshal dlq: %v", err)
		}
		// Fatal class: parked on the first delivery, not after MaxDeliveries.
		if parked.Retries != 1 {
			t.Fatalf("expected 1 delivery before DLQ, got %d", parked.Retries)
		}
		if parked.Job.Source != "bad.txt" || parked.Error == "" {
			t.Fatalf("dlq message incomplete: %+v", parked)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for DLQ message")
	}
}

func TestConsumer_RetriesThenDLQ(t *testing.T) {
	nc := startTestNATS(t)

	st := memory.New()
	adapter := embed.New(failClient{}, embed.Options{})
	p := New(Deps{
		Embedder:    adapter,
		Writer:      index.New(st, "docs", store.Cosine),
		Retriever:   retrieve.New(adapter, st, "docs", retrieve.Options{}),
		Synthesizer: answer.New(&echoGen{}, answer.Options{}),
	})

	sub, err := StartConsumer(nc, p, segment.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	dlq := make(chan *nats.Msg, 1)
	dsub, err := nc.ChanSubscribe(DLQSubject, dlq)
	if err != nil {
		t.Fatal(err)
	}
	defer dsub.Unsubscribe()

	publishJob(t, nc, IngestJob{Source: "flaky.txt", Text: "some text to ingest"})

	select {
	case msg := <-dlq:
		var parked DLQMessage
		if err := json.Unmarshal(msg.Data, &parked); err != nil {
			t.Fatalf("unmarshal dlq: %v", err)
		}
		if parked.Retries != MaxDeliveries {
			t.Fatalf("expected %d deliveries before DLQ, got %d", MaxDeliveries, parked.Retries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for DLQ message")
	}
}

func TestConsumer_MalformedJobDropped(t *testing.T) {
	nc := startTestNATS(t)
	ps := testPipeline(t)

	sub, err := StartConsumer(nc, ps.pipeline, segment.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	dlq := make(chan *nats.Msg, 1)
	dsub, err := nc.ChanSubscribe(DLQSubject, dlq)
	if err != nil {
		t.Fatal(err)
	}
	defer dsub.Unsubscribe()

	nc.Publish(JobsSubject, []byte("{bad"))
	nc.Flush()

	select {
	case <-dlq:
		t.Fatal("malformed job must be dropped, not parked")
	case <-time.After(200 * time.Millisecond):
	}
	if got := ps.store.Len("docs"); got != 0 {
		t.Fatalf("nothing should be ingested, got %d", got)
	}
}
