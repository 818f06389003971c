package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating progress
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 50, Total: 100, Message: "worker 1"})

	// Then: output is correctly formatted
	assert.Equal(t, "[INDEX] 50/100 worker 1\n", buf.String())
}

func TestPlainRenderer_UpdateProgress_MessageOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageListing, Message: "listing corpus"})
	r.UpdateProgress(ProgressEvent{Stage: StageResolving})

	assert.Equal(t, "[LIST] listing corpus\n", buf.String())
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: rendering every stage and a summary
	for _, stage := range []Stage{StageListing, StageResolving, StageIndexing, StageComplete} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 1, Total: 2})
	}
	r.Complete(CompletionStats{Entities: 2, Chunks: 4, Duration: time.Second})

	// Then: output contains no escape codes
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_AddError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{File: "a.txt", Err: errors.New("boom")})
	r.AddError(ErrorEvent{Err: errors.New("slow"), IsWarn: true})

	assert.Contains(t, buf.String(), "ERROR: a.txt: boom")
	assert.Contains(t, buf.String(), "WARN: slow")
	assert.Equal(t, 1, r.errors)
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing a run that indexed documents
	r.Complete(CompletionStats{
		Listed:   10,
		Entities: 4,
		Chunks:   12,
		Skipped:  1,
		Duration: 2 * time.Second,
		Stages:   StageTimings{List: time.Millisecond, Resolve: time.Millisecond, Index: 2 * time.Second},
		Embedder: EmbedderInfo{Model: "static-hash", Dimensions: 64},
	})

	// Then: the summary names documents, chunks and model
	out := buf.String()
	assert.Contains(t, out, "Complete: 4 documents, 12 chunks indexed in 2s")
	assert.Contains(t, out, "(1 unsupported skipped)")
	assert.Contains(t, out, "2.0 docs/sec")
	assert.Contains(t, out, "Model: static-hash (64 dims)")
}

func TestPlainRenderer_Complete_NothingToDo(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(CompletionStats{Listed: 7})

	assert.Contains(t, buf.String(), "Nothing to index: 7 documents listed")
}
