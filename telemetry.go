package meshdoc

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("meshdoc")

var (
	changesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_changes_applied_total",
		Help: "Authoritative change messages applied, by result",
	}, []string{"result"})

	mergeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_merge_ops_total",
		Help: "Individual merge operations applied, by stream",
	}, []string{"stream"})

	applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshdoc_apply_duration_seconds",
		Help:    "Time spent applying one change message",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	connectRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_connect_requests_total",
		Help: "Connect requests issued to the sequencer, by result",
	}, []string{"result"})

	openDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshdoc_open_documents",
		Help: "Documents currently connected",
	})

	intentsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshdoc_intents_sent_total",
		Help: "Change intents handed to the sequencer, by kind",
	}, []string{"kind"})
)

func startApplySpan(ctx context.Context, d *RuntimeDocument, msg *ChangeMessage) (context.Context, trace.Span) {
	return tracer.Start(ctx, "RuntimeDocument.ApplyChange",
		trace.WithAttributes(
			attribute.String("meshdoc.document_id", d.id),
			attribute.String("meshdoc.path", d.path),
			attribute.Bool("meshdoc.root", msg.Root),
			attribute.String("meshdoc.target", msg.Target),
			attribute.Int("meshdoc.element_ops", len(msg.Elements)),
			attribute.Int("meshdoc.text_ops", len(msg.Text)),
		),
	)
}

func startLifecycleSpan(ctx context.Context, name, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("meshdoc.path", path)))
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func intentKind(in *ChangeIntent) string {
	switch {
	case in.InsertChildren != nil:
		return "insertChildren"
	case in.SetAttributes != nil:
		return "setAttributes"
	case in.RemoveAttributes != nil:
		return "removeAttributes"
	case in.Delete != nil:
		return "delete"
	case in.InsertText != nil:
		return "insertText"
	case in.FormatText != nil:
		return "formatText"
	case in.DeleteText != nil:
		return "deleteText"
	}
	return "unknown"
}
