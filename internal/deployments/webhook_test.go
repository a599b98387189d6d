package deployments

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"launchpad/internal/builder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, inner map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(inner)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(raw),
			"messageId": "msg-1",
		},
		"subscription": "projects/p/subscriptions/builds",
	})
	require.NoError(t, err)
	return outer
}

func TestDecodeBuildEvent_Substitutions(t *testing.T) {
	body := envelope(t, map[string]any{
		"id":     "build-123",
		"status": "SUCCESS",
		"substitutions": map[string]string{
			"deployment_id": "dep-abc",
		},
	})

	ev, err := DecodeBuildEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "dep-abc", ev.DeploymentID)
	assert.Equal(t, "build-123", ev.BuildID)
	assert.Equal(t, builder.StatusSuccess, ev.Status)
}

func TestDecodeBuildEvent_SourcePathFallback(t *testing.T) {
	body := envelope(t, map[string]any{
		"id":     "build-456",
		"status": "FAILURE",
		"source": map[string]any{
			"storageSource": map[string]any{
				"object": "dep-xyz/source.zip",
			},
		},
	})

	ev, err := DecodeBuildEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "dep-xyz", ev.DeploymentID)
	assert.Equal(t, builder.StatusFailure, ev.Status)
}

func TestDecodeBuildEvent_Unresolvable(t *testing.T) {
	body := envelope(t, map[string]any{
		"id":     "build-789",
		"status": "WORKING",
	})

	_, err := DecodeBuildEvent(body)
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestDecodeBuildEvent_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":        []byte("not json"),
		"empty envelope":  []byte(`{}`),
		"bad base64":      []byte(`{"message":{"data":"!!!"}}`),
		"missing status":  envelope(t, map[string]any{"id": "b"}),
		"missing id":      envelope(t, map[string]any{"status": "SUCCESS"}),
		"non-json inner":  []byte(`{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("nope")) + `"}}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBuildEvent(body)
			assert.Error(t, err)
		})
	}
}
