package exec

import "fmt"

// Stage identifies where in the pipeline a signal was accepted or
// rejected.
type Stage uint8

const (
	StageSignal Stage = iota
	StageChainGate
	StageBuild
	StageSimulate
	StageSign
	StageBundle
	StageSubmit
)

// String returns the wire name of the stage.
func (s Stage) String() string {
	switch s {
	case StageSignal:
		return "signal"
	case StageChainGate:
		return "chain-gate"
	case StageBuild:
		return "build"
	case StageSimulate:
		return "simulate"
	case StageSign:
		return "sign"
	case StageBundle:
		return "bundle"
	case StageSubmit:
		return "submit"
	}
	return "unknown"
}

// Code is the machine-readable rejection category.
type Code uint8

const (
	CodeNone Code = iota
	CodeInvalidSignal
	CodeExecutionBlocked
	CodeCrossChainUnsupported
	CodeCalldataTooLarge
	CodeSimulationReverted
	CodeSigningBlocked
	CodeCircuitBreakerOpen
	CodeNonceCollision
	CodeRelayFailed
	CodeRPC
	CodeCancelled
)

// String returns a stable identifier for the code.
func (c Code) String() string {
	switch c {
	case CodeInvalidSignal:
		return "invalid_signal"
	case CodeExecutionBlocked:
		return "execution_blocked"
	case CodeCrossChainUnsupported:
		return "cross_chain_unsupported"
	case CodeCalldataTooLarge:
		return "calldata_too_large"
	case CodeSimulationReverted:
		return "simulation_reverted"
	case CodeSigningBlocked:
		return "signing_blocked"
	case CodeCircuitBreakerOpen:
		return "circuit_breaker_open"
	case CodeNonceCollision:
		return "nonce_collision"
	case CodeRelayFailed:
		return "relay_failed"
	case CodeRPC:
		return "rpc"
	case CodeCancelled:
		return "cancelled"
	}
	return "none"
}

// PipelineError carries the stage and category of a rejection alongside
// the human-readable reason. Reasons originating on-chain (revert
// strings) are preserved verbatim.
type PipelineError struct {
	Stage  Stage
	Code   Code
	Reason string
	Err    error // wrapped cause, may be nil
}

func (e *PipelineError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

func reject(stage Stage, code Code, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Stage: stage, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// countsAgainstBreaker reports whether this rejection feeds the circuit
// breaker. Configuration-level gate refusals do not; execution-path
// failures do.
func (e *PipelineError) countsAgainstBreaker() bool {
	switch e.Code {
	case CodeInvalidSignal, CodeExecutionBlocked, CodeCrossChainUnsupported,
		CodeSigningBlocked, CodeCircuitBreakerOpen, CodeCancelled:
		return false
	}
	return true
}
