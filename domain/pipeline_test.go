package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDynamicStep_Band(t *testing.T) {
	classID := int64(5)

	universal := DynamicStep{}
	assert.Equal(t, BandUniversalPre, universal.Band())

	classSpecific := DynamicStep{DocumentClassID: &classID}
	assert.Equal(t, BandClassSpecific, classSpecific.Band())

	postBranching := DynamicStep{DocumentClassID: &classID, PostBranching: true}
	assert.Equal(t, BandUniversalPost, postBranching.Band())

	universalPost := DynamicStep{PostBranching: true}
	assert.Equal(t, BandUniversalPost, universalPost.Band())
}

func TestCanTransition_JobLifecycle(t *testing.T) {
	assert.True(t, CanTransition(JobPending, JobQueued))
	assert.True(t, CanTransition(JobQueued, JobRunning))
	assert.True(t, CanTransition(JobRunning, JobCompleted))
	assert.True(t, CanTransition(JobRunning, JobRunning))

	assert.False(t, CanTransition(JobCompleted, JobRunning))
	assert.False(t, CanTransition(JobPending, JobRunning))
	assert.False(t, CanTransition(JobFailed, JobQueued))
}

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{JobCompleted, JobFailed, JobCancelled, JobTimeout, JobTerminated} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	for _, s := range []JobStatus{JobPending, JobQueued, JobRunning} {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}
