package audit

import (
	"fmt"
	"time"
)

// Severity of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Type identifies what happened.
type Type string

const (
	WorkflowStarted       Type = "workflow_started"
	WorkflowFinished      Type = "workflow_finished"
	StepStarted           Type = "step_started"
	StepSucceeded         Type = "step_succeeded"
	StepFailed            Type = "step_failed"
	StepSkipped           Type = "step_skipped"
	RetryAttempt          Type = "retry_attempt"
	BreakerTransition     Type = "breaker_transition"
	BreakerRejected       Type = "breaker_rejected"
	LedgerAppended        Type = "ledger_appended"
	TransactionCommitted  Type = "transaction_committed"
	RollbackStarted       Type = "rollback_started"
	CompensationSucceeded Type = "compensation_succeeded"
	CompensationFailed    Type = "compensation_failed"
	RollbackFinished      Type = "rollback_finished"
)

// Event is one audit record. Seq and Time are assigned together by the Logger
// when the event is written, so Time never decreases as Seq grows. Events are
// never modified after they are written.
type Event struct {
	Seq           uint64         `json:"seq"`
	Time          time.Time      `json:"time"`
	CorrelationID string         `json:"correlation_id"`
	Type          Type           `json:"type"`
	Severity      Severity       `json:"severity"`
	Component     string         `json:"component"`
	Message       string         `json:"message"`
	Fields        map[string]any `json:"fields,omitempty"`

	// Chain fields, filled in by FileSink and by Replay.
	PrevHash string `json:"-"`
	Hash     string `json:"-"`
}

// Emitter records events for one correlation id and component.
type Emitter struct {
	logger        *Logger
	correlationID string
	component     string
}

// For returns an Emitter bound to a correlation id and component. A nil
// Logger yields an Emitter that discards everything.
func (l *Logger) For(correlationID, component string) Emitter {
	return Emitter{logger: l, correlationID: correlationID, component: component}
}

// Info records an informational event. kv is a list of alternating keys and
// values, as with logr.
func (e Emitter) Info(typ Type, msg string, kv ...any) {
	e.emit(SeverityInfo, typ, msg, kv)
}

// Warn records a warning.
func (e Emitter) Warn(typ Type, msg string, kv ...any) {
	e.emit(SeverityWarning, typ, msg, kv)
}

// Error records an error event. err may be nil.
func (e Emitter) Error(typ Type, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	e.emit(SeverityError, typ, msg, kv)
}

func (e Emitter) emit(sev Severity, typ Type, msg string, kv []any) {
	if e.logger == nil {
		return
	}
	e.logger.Record(Event{
		CorrelationID: e.correlationID,
		Type:          typ,
		Severity:      sev,
		Component:     e.component,
		Message:       msg,
		Fields:        fields(kv),
	})
}

func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			m[key] = nil
			break
		}
		v := kv[i+1]
		switch val := v.(type) {
		case error:
			v = val.Error()
		case fmt.Stringer:
			v = val.String()
		}
		m[key] = v
	}
	return m
}
