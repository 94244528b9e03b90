package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	Stage string

	SessionID  optional[string] // codeguard.session.id
	SourceFile optional[string] // codeguard.source.file
	Sanitizer  optional[string] // codeguard.sanitizer
	Engine     optional[string] // codeguard.engine
	crashCount optional[int]    // codeguard.crash.count
	pairCount  optional[int]    // codeguard.triage.pairs
	corpusSize optional[int]    // fuzz.corpus.size

	extraAttributes map[string]any
}

func NewSpanAttributes(stage Stage) *SpanAttributes {
	return &SpanAttributes{
		Stage:           stage.String(),
		extraAttributes: make(map[string]any),
	}
}

// EmptySpanAttributes has no stage set; Merge fills it in later.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge copies the values set in other that are not yet set in o.
// The stage is always taken from other when present.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.Stage != "" {
		o.Stage = other.Stage
	}

	mergeOptional(&o.SessionID, &other.SessionID)
	mergeOptional(&o.SourceFile, &other.SourceFile)
	mergeOptional(&o.Sanitizer, &other.Sanitizer)
	mergeOptional(&o.Engine, &other.Engine)
	mergeOptional(&o.crashCount, &other.crashCount)
	mergeOptional(&o.pairCount, &other.pairCount)
	mergeOptional(&o.corpusSize, &other.corpusSize)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithSessionID(val string) *SpanAttributes {
	o.SessionID.Set(val)
	return o
}

func (o *SpanAttributes) WithSourceFile(val string) *SpanAttributes {
	o.SourceFile.Set(val)
	return o
}

func (o *SpanAttributes) WithSanitizer(val string) *SpanAttributes {
	o.Sanitizer.Set(val)
	return o
}

func (o *SpanAttributes) WithEngine(val string) *SpanAttributes {
	o.Engine.Set(val)
	return o
}

func (o *SpanAttributes) WithCrashCount(val int) *SpanAttributes {
	o.crashCount.Set(val)
	return o
}

func (o *SpanAttributes) WithPairCount(val int) *SpanAttributes {
	o.pairCount.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.corpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("codeguard.stage", o.Stage))
	if o.SessionID.set {
		attrs = append(attrs, attribute.String("codeguard.session.id", o.SessionID.val))
	}
	if o.SourceFile.set {
		attrs = append(attrs, attribute.String("codeguard.source.file", o.SourceFile.val))
	}
	if o.Sanitizer.set {
		attrs = append(attrs, attribute.String("codeguard.sanitizer", o.Sanitizer.val))
	}
	if o.Engine.set {
		attrs = append(attrs, attribute.String("codeguard.engine", o.Engine.val))
	}
	if o.crashCount.set {
		attrs = append(attrs, attribute.Int("codeguard.crash.count", o.crashCount.val))
	}
	if o.pairCount.set {
		attrs = append(attrs, attribute.Int("codeguard.triage.pairs", o.pairCount.val))
	}
	if o.corpusSize.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.size", o.corpusSize.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
