// Package pipeline implements the generic bounded-queue PipelineStage
// worker and the VideoPipeline state machine that wires capture, decode,
// encode, and parse/emit stages together with restart-on-failure (spec
// §4.7, §4.8), grounded on kvm_pipeline/src/kvm_pipeline.cpp's
// PipelineNode and VideoPipeline.
package pipeline

import "fmt"

// TransientDecodeError: a single JPEG frame fails to parse. Logged and
// the frame is dropped; the pipeline continues.
type TransientDecodeError struct{ Cause error }

func (e *TransientDecodeError) Error() string { return fmt.Sprintf("transient decode error: %v", e.Cause) }
func (e *TransientDecodeError) Unwrap() error { return e.Cause }

// TransientEncodeError: the encoder returned zero bytes with no failure.
// The frame is dropped; the pipeline continues.
type TransientEncodeError struct{}

func (e *TransientEncodeError) Error() string { return "transient encode error: zero bytes" }

// FatalEncodeError: the encoder API returned failure. Escalates to the
// supervisor, which restarts the pipeline.
type FatalEncodeError struct{ Cause error }

func (e *FatalEncodeError) Error() string { return fmt.Sprintf("fatal encode error: %v", e.Cause) }
func (e *FatalEncodeError) Unwrap() error { return e.Cause }

// CaptureError: the capture driver lost the device or produced no frames
// for more than the capture timeout. Escalates to the supervisor.
type CaptureError struct{ Cause error }

func (e *CaptureError) Error() string { return fmt.Sprintf("capture error: %v", e.Cause) }
func (e *CaptureError) Unwrap() error { return e.Cause }

// BackpressureDrop: a stage's queue was full at enqueue time. The job is
// dropped; the pipeline continues.
type BackpressureDrop struct{ Stage string }

func (e *BackpressureDrop) Error() string {
	return fmt.Sprintf("backpressure drop on stage %q", e.Stage)
}

// ConfigError: unsupported pixel format, unsupported JPEG subsampling, or
// missing parameter sets before a keyframe. The frame is skipped.
type ConfigError struct{ Reason string }

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Reason) }
