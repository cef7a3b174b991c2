package executionrepo

import (
	"testing"

	"github.com/djlord-it/execrepo/internal/domain"
)

func TestExecutionKey(t *testing.T) {
	if got, want := executionKey(domain.Pipeline, "abc"), "pipeline:abc"; got != want {
		t.Errorf("executionKey(Pipeline, abc) = %q, want %q", got, want)
	}
	if got, want := executionKey(domain.Orchestration, "abc"), "orchestration:abc"; got != want {
		t.Errorf("executionKey(Orchestration, abc) = %q, want %q", got, want)
	}
}

func TestStageIndexKey(t *testing.T) {
	if got, want := stageIndexKey(domain.Pipeline, "abc"), "pipeline:abc:stageIndex"; got != want {
		t.Errorf("stageIndexKey = %q, want %q", got, want)
	}
}

func TestAppIndexKey(t *testing.T) {
	if got, want := appIndexKey(domain.Pipeline, "myapp"), "pipeline:app:myapp"; got != want {
		t.Errorf("appIndexKey = %q, want %q", got, want)
	}
}

func TestPipelineConfigKeySentinel(t *testing.T) {
	if got, want := pipelineConfigKey(""), "pipeline:executions:"+noPipelineConfigID; got != want {
		t.Errorf("pipelineConfigKey(\"\") = %q, want %q", got, want)
	}
	if got, want := pipelineConfigKey("cfg-1"), "pipeline:executions:cfg-1"; got != want {
		t.Errorf("pipelineConfigKey(cfg-1) = %q, want %q", got, want)
	}
}

func TestCorrelationKey(t *testing.T) {
	if got, want := correlationKey("cid-1"), "correlation:cid-1"; got != want {
		t.Errorf("correlationKey = %q, want %q", got, want)
	}
}

func TestStageField(t *testing.T) {
	if got, want := stageField("s1", stageFieldStatus), "stage.s1.status"; got != want {
		t.Errorf("stageField = %q, want %q", got, want)
	}
}
