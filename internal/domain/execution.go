package domain

// PausedDetails records who paused/resumed an execution and when.
type PausedDetails struct {
	PausedBy   string `json:"pausedBy,omitempty"`
	PauseTime  int64  `json:"pauseTime,omitempty"`
	ResumedBy  string `json:"resumedBy,omitempty"`
	ResumeTime int64  `json:"resumeTime,omitempty"`
}

// Execution is the root aggregate: one run of a pipeline or orchestration.
type Execution struct {
	ID                   string        `json:"id"`
	Type                 ExecutionType `json:"type"`
	Application          string        `json:"application"`
	Status               Status        `json:"status"`
	BuildTime            int64         `json:"buildTime"`
	StartTime            *int64        `json:"startTime,omitempty"`
	EndTime              *int64        `json:"endTime,omitempty"`
	Canceled             bool          `json:"canceled"`
	CanceledBy           string        `json:"canceledBy,omitempty"`
	CancellationReason   string        `json:"cancellationReason,omitempty"`
	LimitConcurrent      bool          `json:"limitConcurrent"`
	KeepWaitingPipelines bool          `json:"keepWaitingPipelines"`
	Authentication       map[string]interface{} `json:"authentication,omitempty"`
	Paused               *PausedDetails `json:"paused,omitempty"`
	ExecutionEngine      string        `json:"executionEngine,omitempty"`
	Origin               string        `json:"origin,omitempty"`
	Trigger              Trigger       `json:"trigger,omitempty"`
	Context              map[string]interface{} `json:"context,omitempty"`

	Stages []*Stage `json:"stages"`

	// Pipeline-only fields. Zero-valued for orchestrations.
	Name             string                   `json:"name,omitempty"`
	PipelineConfigID string                   `json:"pipelineConfigId,omitempty"`
	Notifications    []map[string]interface{} `json:"notifications,omitempty"`
	SystemNotifications []map[string]interface{} `json:"systemNotifications,omitempty"`
	InitialConfig    map[string]interface{}  `json:"initialConfig,omitempty"`

	// Orchestration-only field.
	Description string `json:"description,omitempty"`
}

// Complete reports whether the execution's status is terminal.
func (e *Execution) Complete() bool {
	return e.Status.Complete()
}

// StageByID returns the stage with the given id, or nil.
func (e *Execution) StageByID(id string) *Stage {
	for _, s := range e.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StageIndexOf returns the position of id in Stages, or -1.
func (e *Execution) StageIndexOf(id string) int {
	for i, s := range e.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}
