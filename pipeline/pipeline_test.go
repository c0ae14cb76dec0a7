package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stagehand-ci/stagehand/pipeline"
)

func TestStepString(t *testing.T) {
	assert.Equal(t, "run: npm test", pipeline.Step{Run: "npm test"}.String())
	assert.Equal(t, "uses: checkout", pipeline.Step{Uses: "checkout"}.String())
}

func TestStepIsCommand(t *testing.T) {
	assert.True(t, pipeline.Step{Run: "make"}.IsCommand())
	assert.False(t, pipeline.Step{Uses: "echo"}.IsCommand())
}
