package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpanAttributesMerge(t *testing.T) {
	base := NewSpanAttributes(FuzzStage).WithSessionID("s1")
	other := NewSpanAttributes(TriageStage).
		WithSessionID("s2").
		WithSanitizer("address").
		WithExtraAttribute("k", 1)

	base.Merge(other)
	base.Merge(nil)

	attrs := base.Attributes()
	assert.Contains(t, attrs, attribute.String("codeguard.stage", "triage"))
	assert.Contains(t, attrs, attribute.String("codeguard.session.id", "s1"))
	assert.Contains(t, attrs, attribute.String("codeguard.sanitizer", "address"))
	assert.Contains(t, attrs, attribute.Int("k", 1))
}

func TestFromContextFallsBackToDummy(t *testing.T) {
	tr := FromContext(context.Background())
	_, ok := tr.(*DummyTracer)
	assert.True(t, ok)

	var f *TracerFactory
	_, ok = f.NewTracer(context.Background(), "x").(*DummyTracer)
	assert.True(t, ok)

	ctx := WithTracer(context.Background(), tr)
	assert.Same(t, tr, FromContext(ctx))
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "fuzzing", FuzzStage.String())
	assert.Equal(t, "unknown", Stage(99).String())
}
