package brain

import "fmt"

// Stage is where a turn currently is. Every failure returns the loop to
// StageAwaitingTrigger.
type Stage int32

const (
	StageIdle Stage = iota
	StageAwaitingTrigger
	StageCapturing
	StageTranscribing
	StageRouting
	StageSpeaking
)

var stageNames = [...]string{
	StageIdle:            "idle",
	StageAwaitingTrigger: "awaiting_trigger",
	StageCapturing:       "capturing",
	StageTranscribing:    "transcribing",
	StageRouting:         "routing",
	StageSpeaking:        "speaking",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int32(s))
	}
	return stageNames[s]
}

// TurnError is a turn failure tagged with the stage it happened in.
type TurnError struct {
	Stage Stage
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
