package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"squall/internal/job"
)

func TestHashEncoding(t *testing.T) {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	last := created.Add(time.Minute)
	r := &job.Record{
		Key:         "k1",
		Kind:        "echo",
		Payload:     job.Payload{"id": "7"},
		CreatedAt:   created,
		LastAttempt: &last,
		Retries:     2,
		LastError:   `{"message":"x"}`,
		InstanceID:  "inst",
	}

	m, err := toHash(r)
	require.NoError(t, err)
	assert.NotContains(t, m, "processedAt", "null times are omitted")
	assert.NotContains(t, m, "firstError")

	flat := map[string]string{}
	for k, v := range m {
		flat[k] = v.(string)
	}
	got, err := fromHash(flat)
	require.NoError(t, err)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.LastAttempt)
	assert.True(t, last.Equal(*got.LastAttempt))
	assert.Nil(t, got.NextAttempt)
	assert.Equal(t, 2, got.Retries)
	assert.Equal(t, "7", got.Payload["id"])
	assert.Equal(t, "", got.FirstError)
}

func TestPatchHash(t *testing.T) {
	now := time.Now()
	m, err := patchHash(job.Patch{FailedAt: &now, Retries: job.Int(3)})
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Equal(t, "3", m["retries"])
}

func TestFromHashRejectsBadTime(t *testing.T) {
	_, err := fromHash(map[string]string{"key": "k", "createdAt": "yesterday"})
	assert.Error(t, err)
}
