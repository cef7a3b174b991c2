package executionrepo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/djlord-it/execrepo/internal/domain"
)

// Top-level execution field names, fixed so the hash layout is stable
// across versions.
const (
	fieldType                 = "type"
	fieldApplication           = "application"
	fieldStatus                = "status"
	fieldBuildTime             = "buildTime"
	fieldStartTime             = "startTime"
	fieldEndTime               = "endTime"
	fieldCanceled              = "canceled"
	fieldCanceledBy            = "canceledBy"
	fieldCancellationReason    = "cancellationReason"
	fieldLimitConcurrent       = "limitConcurrent"
	fieldKeepWaitingPipelines  = "keepWaitingPipelines"
	fieldAuthentication        = "authentication"
	fieldPaused                = "paused"
	fieldExecutionEngine       = "executionEngine"
	fieldOrigin                = "origin"
	fieldTrigger               = "trigger"
	fieldContext               = "context"
	fieldStageIndex            = "stageIndex"
	fieldName                  = "name"
	fieldPipelineConfigID      = "pipelineConfigId"
	fieldNotifications         = "notifications"
	fieldSystemNotifications   = "systemNotifications"
	fieldInitialConfig         = "initialConfig"
	fieldDescription           = "description"

	// legacyConfigField is deleted on every storeExecution as cleanup of a
	// field format older record versions used.
	legacyConfigField = "config"
)

// absentMarker is never written to the backend; fields whose encoded value
// is this marker are dropped from the field map before the write.
const absentMarker = "\x00absent\x00"

func isAbsent(v string) bool { return v == absentMarker }

// codec turns an *domain.Execution into a flat field map plus an ordered
// stage-id list, and back. It never talks to a backend.
type codec struct{}

func newCodec() *codec { return &codec{} }

// encode produces the field map and ordered stage id list for execution.
// Absent/optional values are filtered out of the returned map; callers must
// not persist zero-length values as the literal string "null".
func (c *codec) encode(e *domain.Execution) (map[string]string, []string) {
	fields := map[string]string{
		fieldType:                string(e.Type),
		fieldApplication:         e.Application,
		fieldStatus:              string(e.Status),
		fieldBuildTime:           strconv.FormatInt(e.BuildTime, 10),
		fieldStartTime:           encodeIntPtr(e.StartTime),
		fieldEndTime:             encodeIntPtr(e.EndTime),
		fieldCanceled:            strconv.FormatBool(e.Canceled),
		fieldCanceledBy:          encodeString(e.CanceledBy),
		fieldCancellationReason:  encodeString(e.CancellationReason),
		fieldLimitConcurrent:     strconv.FormatBool(e.LimitConcurrent),
		fieldKeepWaitingPipelines: strconv.FormatBool(e.KeepWaitingPipelines),
		fieldAuthentication:      encodeJSON(e.Authentication),
		fieldPaused:              encodeJSONPtr(e.Paused),
		fieldExecutionEngine:     encodeString(e.ExecutionEngine),
		fieldOrigin:              encodeString(e.Origin),
		fieldTrigger:             encodeTrigger(e.Trigger),
		fieldContext:             encodeJSON(e.Context),
	}

	switch e.Type {
	case domain.Pipeline:
		fields[fieldName] = encodeString(e.Name)
		fields[fieldPipelineConfigID] = encodeString(e.PipelineConfigID)
		fields[fieldNotifications] = encodeJSON(e.Notifications)
		fields[fieldSystemNotifications] = encodeJSON(e.SystemNotifications)
		fields[fieldInitialConfig] = encodeJSON(e.InitialConfig)
	case domain.Orchestration:
		fields[fieldDescription] = encodeString(e.Description)
	}

	stageIDs := make([]string, 0, len(e.Stages))
	for _, s := range e.Stages {
		for k, v := range c.encodeStage(s) {
			fields[k] = v
		}
		stageIDs = append(stageIDs, s.ID)
	}
	fields[fieldStageIndex] = strings.Join(stageIDs, ",")

	filterAbsent(fields)
	return fields, stageIDs
}

func (c *codec) encodeStage(s *domain.Stage) map[string]string {
	return map[string]string{
		stageField(s.ID, stageFieldRefID):               encodeString(s.RefID),
		stageField(s.ID, stageFieldType):                encodeString(s.Type),
		stageField(s.ID, stageFieldName):                encodeString(s.Name),
		stageField(s.ID, stageFieldStartTime):           encodeIntPtr(s.StartTime),
		stageField(s.ID, stageFieldEndTime):             encodeIntPtr(s.EndTime),
		stageField(s.ID, stageFieldStatus):               string(s.Status),
		stageField(s.ID, stageFieldSyntheticStageOwner):  encodeString(string(s.SyntheticStageOwner)),
		stageField(s.ID, stageFieldParentStageID):        encodeString(s.ParentStageID),
		stageField(s.ID, stageFieldRequisiteStageRefs):   strings.Join(s.RequisiteStageRefIds, ","),
		stageField(s.ID, stageFieldScheduledTime):        encodeIntPtr(s.ScheduledTime),
		stageField(s.ID, stageFieldContext):              encodeJSON(s.Context),
		stageField(s.ID, stageFieldOutputs):              encodeJSON(s.Outputs),
		stageField(s.ID, stageFieldTasks):                encodeJSON(s.Tasks),
		stageField(s.ID, stageFieldLastModified):         encodeJSONPtr(s.LastModified),
	}
}

// decode is the inverse of encode. orderedStageIDs is authoritative for
// stage order; if empty, decode falls back to the comma-joined denormalized
// stageIndex field.
func (c *codec) decode(id string, t domain.ExecutionType, fields map[string]string, orderedStageIDs []string) (*domain.Execution, error) {
	e := &domain.Execution{
		ID:                   id,
		Type:                 t,
		Application:          fields[fieldApplication],
		Status:               domain.Status(fields[fieldStatus]),
		BuildTime:            decodeInt64(fields[fieldBuildTime]),
		StartTime:            decodeIntPtr(fields[fieldStartTime]),
		EndTime:              decodeIntPtr(fields[fieldEndTime]),
		Canceled:             decodeBool(fields[fieldCanceled]),
		CanceledBy:           fields[fieldCanceledBy],
		CancellationReason:   fields[fieldCancellationReason],
		LimitConcurrent:      decodeBool(fields[fieldLimitConcurrent]),
		KeepWaitingPipelines: decodeBool(fields[fieldKeepWaitingPipelines]),
		ExecutionEngine:      fields[fieldExecutionEngine],
		Origin:               fields[fieldOrigin],
	}
	if e.ExecutionEngine == "" {
		e.ExecutionEngine = domain.DefaultExecutionEngine
	}

	if err := decodeJSON(fields[fieldAuthentication], &e.Authentication); err != nil {
		return nil, fmt.Errorf("decode authentication: %w", err)
	}
	if fields[fieldPaused] != "" {
		var p domain.PausedDetails
		if err := decodeJSON(fields[fieldPaused], &p); err != nil {
			return nil, fmt.Errorf("decode paused: %w", err)
		}
		e.Paused = &p
	}
	trigger, err := decodeTrigger(fields[fieldTrigger])
	if err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	e.Trigger = trigger
	if err := decodeJSON(fields[fieldContext], &e.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}

	switch t {
	case domain.Pipeline:
		e.Name = fields[fieldName]
		e.PipelineConfigID = fields[fieldPipelineConfigID]
		if err := decodeJSON(fields[fieldNotifications], &e.Notifications); err != nil {
			return nil, fmt.Errorf("decode notifications: %w", err)
		}
		if err := decodeJSON(fields[fieldSystemNotifications], &e.SystemNotifications); err != nil {
			return nil, fmt.Errorf("decode systemNotifications: %w", err)
		}
		if err := decodeJSON(fields[fieldInitialConfig], &e.InitialConfig); err != nil {
			return nil, fmt.Errorf("decode initialConfig: %w", err)
		}
	case domain.Orchestration:
		e.Description = fields[fieldDescription]
	}

	ids := orderedStageIDs
	if len(ids) == 0 && fields[fieldStageIndex] != "" {
		ids = strings.Split(fields[fieldStageIndex], ",")
	}

	stages := make([]*domain.Stage, 0, len(ids))
	for _, sid := range ids {
		if sid == "" {
			continue
		}
		stage, err := c.decodeStage(sid, fields)
		if err != nil {
			return nil, fmt.Errorf("decode stage %s: %w", sid, err)
		}
		stage.Execution = e
		stages = append(stages, stage)
	}
	e.Stages = stages

	return e, nil
}

func (c *codec) decodeStage(id string, fields map[string]string) (*domain.Stage, error) {
	s := &domain.Stage{
		ID:                  id,
		RefID:               fields[stageField(id, stageFieldRefID)],
		Type:                fields[stageField(id, stageFieldType)],
		Name:                fields[stageField(id, stageFieldName)],
		StartTime:           decodeIntPtr(fields[stageField(id, stageFieldStartTime)]),
		EndTime:             decodeIntPtr(fields[stageField(id, stageFieldEndTime)]),
		Status:              domain.Status(fields[stageField(id, stageFieldStatus)]),
		SyntheticStageOwner: domain.SyntheticStageOwner(fields[stageField(id, stageFieldSyntheticStageOwner)]),
		ParentStageID:       fields[stageField(id, stageFieldParentStageID)],
		ScheduledTime:       decodeIntPtr(fields[stageField(id, stageFieldScheduledTime)]),
	}
	if v := fields[stageField(id, stageFieldRequisiteStageRefs)]; v != "" {
		s.RequisiteStageRefIds = strings.Split(v, ",")
	}
	if err := decodeJSON(fields[stageField(id, stageFieldContext)], &s.Context); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	if err := decodeJSON(fields[stageField(id, stageFieldOutputs)], &s.Outputs); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	if err := decodeJSON(fields[stageField(id, stageFieldTasks)], &s.Tasks); err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	if v := fields[stageField(id, stageFieldLastModified)]; v != "" {
		var lm domain.LastModified
		if err := decodeJSON(v, &lm); err != nil {
			return nil, fmt.Errorf("lastModified: %w", err)
		}
		s.LastModified = &lm
	}
	return s, nil
}

func filterAbsent(fields map[string]string) {
	for k, v := range fields {
		if isAbsent(v) {
			delete(fields, k)
		}
	}
}

func encodeString(s string) string {
	if s == "" {
		return absentMarker
	}
	return s
}

func encodeIntPtr(p *int64) string {
	if p == nil {
		return absentMarker
	}
	return strconv.FormatInt(*p, 10)
}

func encodeJSON(v interface{}) string {
	if v == nil {
		return absentMarker
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return absentMarker
	}
	return string(b)
}

func encodeJSONPtr(v interface{}) string {
	return encodeJSON(v)
}

func encodeTrigger(t domain.Trigger) string {
	if t.IsZero() {
		return absentMarker
	}
	b, err := json.Marshal(t)
	if err != nil {
		return absentMarker
	}
	return string(b)
}

func decodeTrigger(v string) (domain.Trigger, error) {
	if v == "" {
		return domain.Trigger{}, nil
	}
	var t domain.Trigger
	if err := json.Unmarshal([]byte(v), &t); err != nil {
		return domain.Trigger{}, err
	}
	return t, nil
}

func decodeJSON(v string, out interface{}) error {
	if v == "" {
		return nil
	}
	return json.Unmarshal([]byte(v), out)
}

func decodeInt64(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func decodeIntPtr(v string) *int64 {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func decodeBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
