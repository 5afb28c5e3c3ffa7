package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/pkg/natsutil"
)

const (
	// JobsSubject carries queued ingest jobs.
	JobsSubject = "docent.ingest.jobs"
	// ResultsSubject carries reports for completed jobs.
	ResultsSubject = "docent.ingest.results"
	// DLQSubject parks jobs that exhausted their retries.
	DLQSubject = "docent.ingest.dlq"
	// MaxDeliveries before a failing job is parked on the DLQ.
	MaxDeliveries = 3

	retryHeader = "X-Retry-Count"
)

// IngestJob is the wire format of one queued ingest request. A nil Policy
// means the consumer's default.
type IngestJob struct {
	Source string            `json:"source"`
	Text   string            `json:"text"`
	Meta   map[string]string `json:"meta,omitempty"`
	Policy *segment.Policy   `json:"policy,omitempty"`
}

// IngestResult pairs a completed job's source with its report, so queue
// producers can correlate results to what they enqueued.
type IngestResult struct {
	Source string       `json:"source"`
	Report IngestReport `json:"report"`
}

// DLQMessage is published to the DLQ on exhausted or fatal failure.
type DLQMessage struct {
	Job     IngestJob `json:"job"`
	Error   string    `json:"error"`
	Retries int       `json:"retries"`
}

// StartConsumer subscribes the pipeline to ingest jobs. A failed job is
// re-published with an incremented retry header until MaxDeliveries, then
// parked on the DLQ. ConfigErrors go straight to the DLQ: a bad job does not
// become good by retrying.
func StartConsumer(nc *nats.Conn, p *Pipeline, defaultPolicy segment.Policy, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(JobsSubject, func(msg *nats.Msg) {
		var job IngestJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("consumer: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		policy := defaultPolicy
		if job.Policy != nil {
			policy = *job.Policy
		}
		doc := domain.Document{Source: job.Source, Text: job.Text, Meta: job.Meta}

		// Join the producer's trace so pipeline spans attach to it.
		ctx := natsutil.ContextFromMsg(context.Background(), msg)

		report, err := p.Ingest(ctx, doc, policy)
		if err == nil {
			log.Info("consumer: ingested", "doc_id", report.DocID, "chunks", report.ChunkCount)
			res := IngestResult{Source: job.Source, Report: report}
			if perr := natsutil.Publish(ctx, nc, ResultsSubject, res); perr != nil {
				log.Error("consumer: result publish failed", "error", perr)
			}
			if msg.Reply != "" {
				_ = msg.Ack()
			}
			return
		}

		retries++
		log.Error("consumer: ingest failed",
			"error", err,
			"source", job.Source,
			"retry", retries,
		)

		_, fatal := domain.AsConfig(err)
		if fatal || retries >= MaxDeliveries {
			dlq := DLQMessage{Job: job, Error: err.Error(), Retries: retries}
			if perr := natsutil.Publish(ctx, nc, DLQSubject, dlq); perr != nil {
				log.Error("consumer: DLQ publish failed", "error", perr)
			}
		} else {
			retry := nats.NewMsg(JobsSubject)
			retry.Data = msg.Data
			retry.Header = nats.Header{}
			retry.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
			if perr := nc.PublishMsg(retry); perr != nil {
				log.Error("consumer: retry publish failed", "error", perr)
			}
		}
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
