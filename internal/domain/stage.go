package domain

// LastModified is the small audit block attached to a stage's context
// mutations.
type LastModified struct {
	By      string `json:"by,omitempty"`
	At      int64  `json:"at,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Stage is an ordered child of an Execution.
//
// Execution is a non-owning back-reference: it is reconstructed by the
// Codec on decode and is never part of the persisted record. Treat it as
// an index lookup, not ownership - serializing a Stage must never walk
// back through Execution.
type Stage struct {
	ID                   string               `json:"id"`
	RefID                string               `json:"refId"`
	Type                 string               `json:"type"`
	Name                 string               `json:"name"`
	StartTime            *int64               `json:"startTime,omitempty"`
	EndTime              *int64               `json:"endTime,omitempty"`
	Status               Status               `json:"status"`
	SyntheticStageOwner  SyntheticStageOwner  `json:"syntheticStageOwner,omitempty"`
	ParentStageID        string               `json:"parentStageId,omitempty"`
	RequisiteStageRefIds []string             `json:"requisiteStageRefIds,omitempty"`
	ScheduledTime        *int64               `json:"scheduledTime,omitempty"`
	Context              map[string]interface{} `json:"context,omitempty"`
	Outputs              map[string]interface{} `json:"outputs,omitempty"`
	Tasks                []Task               `json:"tasks,omitempty"`
	LastModified         *LastModified        `json:"lastModified,omitempty"`

	Execution *Execution `json:"-"`
}

// IsSynthetic reports whether the stage declares both a parent and a
// before/after relation, the precondition addStage enforces.
func (s *Stage) IsSynthetic() bool {
	return s.SyntheticStageOwner != SyntheticStageOwnerUnset && s.ParentStageID != ""
}
