package executionrepo

import (
	"fmt"
	"strings"

	"github.com/djlord-it/execrepo/internal/domain"
)

// noPipelineConfigID is the sentinel used when a pipeline carries no
// pipelineConfigId; the sorted set still needs a stable key to live under.
const noPipelineConfigID = "---"

func typeTag(t domain.ExecutionType) string {
	return strings.ToLower(string(t))
}

// executionKey is the hash key holding the execution's field-addressed
// record.
func executionKey(t domain.ExecutionType, id string) string {
	return fmt.Sprintf("%s:%s", typeTag(t), id)
}

// stageIndexKey is the ordered list of stage ids for an execution.
func stageIndexKey(t domain.ExecutionType, id string) string {
	return executionKey(t, id) + ":stageIndex"
}

func allJobsKey(t domain.ExecutionType) string {
	return "allJobs:" + typeTag(t)
}

func appIndexKey(t domain.ExecutionType, app string) string {
	return fmt.Sprintf("%s:app:%s", typeTag(t), app)
}

func pipelineConfigKey(pipelineConfigID string) string {
	if pipelineConfigID == "" {
		pipelineConfigID = noPipelineConfigID
	}
	return "pipeline:executions:" + pipelineConfigID
}

func correlationKey(correlationID string) string {
	return "correlation:" + correlationID
}

const (
	stageFieldPrefix              = "stage."
	stageFieldRefID               = "refId"
	stageFieldType                = "type"
	stageFieldName                = "name"
	stageFieldStartTime           = "startTime"
	stageFieldEndTime             = "endTime"
	stageFieldStatus              = "status"
	stageFieldSyntheticStageOwner = "syntheticStageOwner"
	stageFieldParentStageID       = "parentStageId"
	stageFieldRequisiteStageRefs  = "requisiteStageRefIds"
	stageFieldScheduledTime       = "scheduledTime"
	stageFieldContext             = "context"
	stageFieldOutputs             = "outputs"
	stageFieldTasks               = "tasks"
	stageFieldLastModified        = "lastModified"
)

// stageFieldSuffixes enumerates every namespaced stage field suffix, in a
// fixed order, so removeStage and storeStage can delete exhaustively and
// deterministically rather than relying on whatever happened to be written.
var stageFieldSuffixes = []string{
	stageFieldRefID,
	stageFieldType,
	stageFieldName,
	stageFieldStartTime,
	stageFieldEndTime,
	stageFieldStatus,
	stageFieldSyntheticStageOwner,
	stageFieldParentStageID,
	stageFieldRequisiteStageRefs,
	stageFieldScheduledTime,
	stageFieldContext,
	stageFieldOutputs,
	stageFieldTasks,
	stageFieldLastModified,
}

// stageField builds the field name "stage.<id>.<suffix>".
func stageField(stageID, suffix string) string {
	return stageFieldPrefix + stageID + "." + suffix
}
