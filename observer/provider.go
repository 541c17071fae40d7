package observer

import (
	"context"
	"iter"
	"time"

	"github.com/nevindra/ragkit"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a ragkit.InferenceProvider with OTEL instrumentation.
type ObservedProvider struct {
	inner ragkit.InferenceProvider
	inst  *Instruments
	model string
}

var _ ragkit.InferenceProvider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider that emits traces, metrics, and logs.
func WrapProvider(inner ragkit.InferenceProvider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Initialize(ctx context.Context) error {
	ctx, span := o.start(ctx, "llm.initialize")
	defer span.End()
	start := time.Now()

	err := o.inner.Initialize(ctx)

	o.record(ctx, "initialize", finish(span, err), start)
	return err
}

func (o *ObservedProvider) Invoke(ctx context.Context, req ragkit.ChatRequest) (string, error) {
	ctx, span := o.start(ctx, "llm.invoke", AttrPromptMessages.Int(len(req.Messages)))
	defer span.End()
	start := time.Now()

	text, err := o.inner.Invoke(ctx, req)

	span.SetAttributes(AttrResponseLength.Int(len(text)))
	o.record(ctx, "invoke", finish(span, err), start)
	return text, err
}

// Stream forwards sentences from the inner provider. The span ends when the
// sequence ends, including when the caller breaks out early.
func (o *ObservedProvider) Stream(ctx context.Context, req ragkit.ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := o.start(ctx, "llm.stream", AttrPromptMessages.Int(len(req.Messages)))
		defer span.End()
		start := time.Now()

		sentences := 0
		var streamErr error
		for sentence, err := range o.inner.Stream(ctx, req) {
			if err != nil {
				streamErr = err
				yield("", err)
				break
			}
			sentences++
			if !yield(sentence, nil) {
				break
			}
		}

		span.SetAttributes(AttrStreamSentences.Int(sentences))
		o.inst.StreamSentences.Add(ctx, int64(sentences), metric.WithAttributes(
			AttrLLMModel.String(o.model),
			AttrLLMProvider.String(o.inner.Name()),
		))
		o.record(ctx, "stream", finish(span, streamErr), start)
	}
}

func (o *ObservedProvider) start(ctx context.Context, name string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
	}, extra...)
	return o.inst.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *ObservedProvider) record(ctx context.Context, method, status string, start time.Time) {
	durationMs := float64(time.Since(start).Milliseconds())

	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		AttrStatus.String(status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
