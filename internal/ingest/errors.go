package ingest

import "fmt"

// Pipeline steps, as reported in StepError and logs.
const (
	StepLead           = "lead"
	StepMessage        = "message"
	StepTurn           = "turn"
	StepHistory        = "history"
	StepReply          = "reply"
	StepSend           = "send"
	StepRecordOutbound = "record_outbound"
)

// StepError is one failed pipeline step. A pipeline run returns every step
// error joined with errors.Join.
type StepError struct {
	Step     string
	PhoneKey string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("ingest: %s step failed for %s: %v", e.Step, e.PhoneKey, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
