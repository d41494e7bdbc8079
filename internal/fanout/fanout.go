// Package fanout implements the three-class write-sink policy engine
// (spec.md §4.4): writeOrErr sinks must all succeed, writeOrWarn sinks are
// best-effort, and exactly one read sink serves all reads. Grounded on the
// dynamic-dispatch-over-a-sink-list shape spec.md §9 calls out ("dynamic
// dispatch over sinks" as a design note), implemented in the teacher's
// idiom of returning the first hard error while logging the rest
// (mirroring how pkg/notifications dispatches to multiple channels).
package fanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/sinks"
)

// Policy fans a single verification result out to a configured set of
// write sinks, classified into writeOrErr (ordered, abort-on-error) and
// writeOrWarn (best-effort, logged).
type Policy struct {
	writeOrErr  []sinks.WriteSink
	writeOrWarn []sinks.WriteSink
	read        sinks.ReadSink
	logger      *zap.Logger
}

// New constructs a Policy. read may be nil if no read sink is configured
// yet (e.g. during startup before Init has run).
func New(writeOrErr, writeOrWarn []sinks.WriteSink, read sinks.ReadSink, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{writeOrErr: writeOrErr, writeOrWarn: writeOrWarn, read: read, logger: logger}
}

// WarnEvent records one writeOrWarn sink's failure, bound to the job's
// trace id for correlation (spec.md §4.4 step 2).
type WarnEvent struct {
	SinkIdentifier sinks.Identifier
	TraceID        string
	Err            error
}

// StoreVerification implements spec.md §4.4's storeVerification algorithm:
// writeOrErr sinks run first, in declaration order, propagating the first
// error; writeOrWarn sinks then run best-effort and their failures are
// returned as WarnEvents rather than aborting the call.
func (p *Policy) StoreVerification(ctx context.Context, result *sinks.VerificationResult, jobCtx *sinks.JobContext) ([]WarnEvent, error) {
	for _, sink := range p.writeOrErr {
		if err := sink.StoreVerification(ctx, result, jobCtx); err != nil {
			p.logger.Error("writeOrErr sink failed, aborting fan-out",
				zap.String("sink", string(sink.Identifier())), zap.Error(err))
			return nil, err
		}
	}

	var warnings []WarnEvent
	for _, sink := range p.writeOrWarn {
		if err := sink.StoreVerification(ctx, result, jobCtx); err != nil {
			traceID := ""
			if jobCtx != nil {
				traceID = jobCtx.TraceID
			}
			p.logger.Warn("writeOrWarn sink failed",
				zap.String("sink", string(sink.Identifier())), zap.String("trace_id", traceID), zap.Error(err))
			warnings = append(warnings, WarnEvent{SinkIdentifier: sink.Identifier(), TraceID: traceID, Err: err})
		}
	}
	return warnings, nil
}

// InitAll initializes every configured sink (writeOrErr first, then
// writeOrWarn), stopping at the first writeOrErr failure since those are
// mandatory for the service to be useful.
func (p *Policy) InitAll(ctx context.Context) error {
	for _, sink := range p.writeOrErr {
		if err := sink.Init(ctx); err != nil {
			return err
		}
	}
	for _, sink := range p.writeOrWarn {
		if err := sink.Init(ctx); err != nil {
			p.logger.Warn("writeOrWarn sink failed to initialize", zap.String("sink", string(sink.Identifier())), zap.Error(err))
		}
	}
	return nil
}

// Read returns the single active read sink, or nil if none is configured.
func (p *Policy) Read() sinks.ReadSink { return p.read }
