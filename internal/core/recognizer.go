package core

import (
	"context"

	"github.com/broadcomms/meeting-ledger/internal/domain"
)

// PullChunk returns the next audio chunk in arrival order. ok=false means the
// stream has ended and no further chunks will follow. Implementations may
// block briefly waiting for the next chunk but must honor their session's
// stop signal.
type PullChunk func() (chunk []byte, ok bool)

// Recognizer is the speech-recognition transport, treated as a black box:
// audio bytes go in, transcript events come out. StreamRecognize blocks for
// the lifetime of the stream and returns once pull reports end-of-stream, the
// context is canceled, or the transport fails.
//
// onEvent is invoked for every interim and final result in the order the
// transport produced them. onError signals a transport-level failure; the
// caller treats the stream as ended after it fires.
type Recognizer interface {
	StreamRecognize(ctx context.Context, pull PullChunk, onEvent func(domain.TranscriptEvent), onError func(error)) error
}
