package observer

import (
	"context"
	"time"

	"github.com/nevindra/ragkit"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedStore wraps a ragkit.VectorStore with OTEL instrumentation.
type ObservedStore struct {
	inner ragkit.VectorStore
	inst  *Instruments
}

var _ ragkit.VectorStore = (*ObservedStore)(nil)

// WrapStore returns an instrumented vector store.
func WrapStore(inner ragkit.VectorStore, inst *Instruments) *ObservedStore {
	return &ObservedStore{inner: inner, inst: inst}
}

func (o *ObservedStore) Init(ctx context.Context) error {
	ctx, span := o.inst.Tracer.Start(ctx, "store.init")
	defer span.End()
	start := time.Now()

	err := o.inner.Init(ctx)

	o.record(ctx, "init", finish(span, err), start)
	return err
}

func (o *ObservedStore) Add(ctx context.Context, vectors [][]float32, documents []string, metadata []map[string]any) ([]string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "store.add", trace.WithAttributes(
		AttrStoreDocuments.Int(len(documents)),
	))
	defer span.End()
	start := time.Now()

	ids, err := o.inner.Add(ctx, vectors, documents, metadata)

	o.record(ctx, "add", finish(span, err), start)
	return ids, err
}

func (o *ObservedStore) Search(ctx context.Context, req ragkit.SearchRequest) ([]ragkit.Document, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "store.search", trace.WithAttributes(
		AttrStoreTopK.Int(req.TopK),
	))
	defer span.End()
	start := time.Now()

	docs, err := o.inner.Search(ctx, req)

	span.SetAttributes(AttrStoreResults.Int(len(docs)))
	o.record(ctx, "search", finish(span, err), start)
	return docs, err
}

func (o *ObservedStore) Close() error {
	return o.inner.Close()
}

func (o *ObservedStore) record(ctx context.Context, op, status string, start time.Time) {
	o.inst.StoreOperations.Add(ctx, 1, metric.WithAttributes(
		AttrStoreOperation.String(op),
		AttrStatus.String(status),
	))
	o.inst.StoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		AttrStoreOperation.String(op),
	))
}
