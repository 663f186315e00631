package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	t.Parallel()

	ee := Newf("lock write for %s", "pkg").
		Component("enforcement").
		Category(CategoryConflict).
		Priority(PriorityCritical).
		Context("package", "com.example").
		Timing("decide", 15*time.Millisecond).
		Build()

	assert.Equal(t, "enforcement", ee.GetComponent())
	assert.Equal(t, CategoryConflict, ee.Category)
	assert.Equal(t, PriorityCritical, ee.GetPriority())

	ctx := ee.GetContext()
	assert.Equal(t, "com.example", ctx["package"])
	assert.Equal(t, "decide", ctx["operation"])
	assert.Equal(t, int64(15), ctx["duration_ms"])
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestSentinelSurvivesWrapping(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("duplicate")
	ee := New(fmt.Errorf("insert: %w", sentinel)).Category(CategoryConflict).Build()

	require.ErrorIs(t, ee, sentinel)
	assert.True(t, IsCategory(ee, CategoryConflict))
	assert.False(t, IsNotFound(ee))

	wrapped := fmt.Errorf("outer: %w", ee)
	assert.True(t, IsCategory(wrapped, CategoryConflict))
}

func TestDetectCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		component string
		want      ErrorCategory
	}{
		{"deadline", fmt.Errorf("context deadline exceeded"), "", CategoryTimeout},
		{"model load", fmt.Errorf("failed to load model"), "", CategoryModelLoad},
		{"component fallback", fmt.Errorf("boom"), "datastore", CategoryDatabase},
		{"enhanced passthrough", New(NewStd("x")).Category(CategoryOCR).Build(), "", CategoryOCR},
		{"unknown", fmt.Errorf("boom"), "", CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detectCategory(tt.err, tt.component))
		})
	}
}

func TestBasicScrub(t *testing.T) {
	t.Parallel()

	scrubbed := BasicScrub("Error at https://api.example.com?api_key=secret123&token=abc")
	assert.Equal(t, "Error at https://api.example.com?[REDACTED]", scrubbed)

	scrubbed = BasicScrub("decision failed for com.example.casino")
	assert.NotContains(t, scrubbed, "com.example.casino")
	assert.Contains(t, scrubbed, "[PACKAGE_REDACTED]")

	scrubbed = BasicScrub("dial tcp mqtt://user:pw@broker:1883")
	assert.NotContains(t, scrubbed, "user:pw")
}
