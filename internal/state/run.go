package state

type Outcome string

const (
	OutcomeIdle        Outcome = "idle"
	OutcomeLoading     Outcome = "loading"
	OutcomeSuccess     Outcome = "success"
	OutcomeError       Outcome = "error"
	OutcomeInterrupted Outcome = "interrupted"
)

type ProbeStatus string

const (
	ProbeIdle    ProbeStatus = "idle"
	ProbeSuccess ProbeStatus = "success"
	ProbeError   ProbeStatus = "error"
)

type RunState struct {
	Loading          bool        `json:"loading"`
	Outcome          Outcome     `json:"outcome"`
	RequestData      string      `json:"requestData"`
	ResponseData     string      `json:"responseData"`
	Error            string      `json:"error"`
	Warnings         []string    `json:"warnings,omitempty"`
	ResponseDuration *int64      `json:"responseDuration"`
	ProbeStatus      ProbeStatus `json:"probeStatus"`
	ProbeDuration    *int64      `json:"probeDuration"`
	IsProbeTesting   bool        `json:"isProbeTesting"`
	IsTimerRunning   bool        `json:"isTimerRunning"`
}

func DefaultRun() RunState {
	return RunState{Outcome: OutcomeIdle, ProbeStatus: ProbeIdle}
}

type RunUpdate func(RunState) RunState

func ReduceRun(s RunState, updates ...RunUpdate) RunState {
	for _, u := range updates {
		if u != nil {
			s = u(s)
		}
	}
	return s
}

// StartTest enters loading and clears the previous outcome.
func StartTest(requestData string) RunUpdate {
	return func(s RunState) RunState {
		s.Loading = true
		s.Outcome = OutcomeLoading
		s.Error = ""
		s.Warnings = nil
		s.RequestData = requestData
		s.ResponseData = ""
		s.ResponseDuration = nil
		return s
	}
}

// FinishTest leaves loading with success when errMsg is empty.
func FinishTest(responseData, errMsg string, duration *int64) RunUpdate {
	return func(s RunState) RunState {
		s.Loading = false
		s.ResponseData = responseData
		s.Error = errMsg
		s.ResponseDuration = duration
		s.Outcome = OutcomeSuccess
		if errMsg != "" {
			s.Outcome = OutcomeError
		}
		return s
	}
}

// Interrupt is the neutral end of an aborted test.
func Interrupt() RunUpdate {
	return func(s RunState) RunState {
		s.Loading = false
		s.Outcome = OutcomeInterrupted
		s.Error = ""
		return s
	}
}

func Warn(msg string) RunUpdate {
	return func(s RunState) RunState {
		s.Warnings = append(append([]string(nil), s.Warnings...), msg)
		return s
	}
}

func SetError(msg string) RunUpdate {
	return func(s RunState) RunState {
		s.Error = msg
		return s
	}
}

func StartProbe() RunUpdate {
	return func(s RunState) RunState {
		s.IsProbeTesting = true
		return s
	}
}

func FinishProbe(status ProbeStatus, duration *int64) RunUpdate {
	return func(s RunState) RunState {
		s.IsProbeTesting = false
		s.ProbeStatus = status
		s.ProbeDuration = duration
		return s
	}
}

func SetTimerRunning(running bool) RunUpdate {
	return func(s RunState) RunState {
		s.IsTimerRunning = running
		return s
	}
}
