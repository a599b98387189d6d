package deployments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"launchpad/internal/builder"
	"launchpad/internal/logging"
)

// ErrUnresolvable means the event names no deployment this control plane
// knows about. The caller acks and discards; push subscriptions redeliver
// on anything else.
var ErrUnresolvable = errors.New("build event does not resolve to a deployment")

// pushEnvelope is the push-subscription wrapper around a build message.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// buildMessage is the executor's build notification after base64 decode.
type buildMessage struct {
	ID            string            `json:"id"`
	Status        builder.Status    `json:"status"`
	Substitutions map[string]string `json:"substitutions"`
	Source        struct {
		StorageSource struct {
			Object string `json:"object"`
		} `json:"storageSource"`
	} `json:"source"`
}

// BuildEvent is the decoded, deployment-resolved form of a webhook delivery.
type BuildEvent struct {
	DeploymentID string
	BuildID      string
	Status       builder.Status
}

// DecodeBuildEvent unwraps the push envelope and resolves the deployment
// id from either the embedded substitution or the mirrored source path
// prefix.
func DecodeBuildEvent(body []byte) (*BuildEvent, error) {
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode push envelope: %w", err)
	}
	if env.Message.Data == "" {
		return nil, errors.New("push envelope carries no data")
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope payload: %w", err)
	}

	var msg buildMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode build message: %w", err)
	}
	if msg.ID == "" || msg.Status == "" {
		return nil, errors.New("build message missing id or status")
	}

	deploymentID := msg.Substitutions["deployment_id"]
	if deploymentID == "" {
		// Mirrored archives live at {deployment_id}/source.zip.
		if object := msg.Source.StorageSource.Object; object != "" {
			deploymentID = strings.SplitN(object, "/", 2)[0]
		}
	}
	if deploymentID == "" {
		return nil, ErrUnresolvable
	}

	return &BuildEvent{
		DeploymentID: deploymentID,
		BuildID:      msg.ID,
		Status:       msg.Status,
	}, nil
}

// Reconcile applies a decoded build event. Events for unknown or deleted
// deployments and duplicate deliveries are absorbed silently; the
// webhook surface always acks after this returns.
func (s *Service) Reconcile(ctx context.Context, ev *BuildEvent) {
	log := logging.S().With(
		"deployment_id", ev.DeploymentID,
		"build_id", ev.BuildID,
		"build_status", ev.Status)

	applied, err := s.ApplyBuildEvent(ctx, ev.DeploymentID, ev.BuildID, ev.Status)
	switch {
	case errors.Is(err, ErrNotFound):
		log.Infow("build event for absent deployment discarded")
	case err != nil:
		log.Errorw("build event reconcile failed", "error", err)
	default:
		log.Infow("build event reconciled", "deployment_status", applied)
	}
}
