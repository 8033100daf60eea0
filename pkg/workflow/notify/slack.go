// Package notify delivers best-effort human-facing notifications for
// workflow events that need an operator's attention, starting with
// pending approval requests.
package notify

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
)

// SlackNotifier posts approval notifications to a fixed Slack channel.
// A zero-value SlackNotifier (nil client) is a valid no-op.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	log     logr.Logger
}

// NewSlackNotifier builds a notifier posting to channel using token. An
// empty token yields a no-op notifier (useful for local/offline runs).
func NewSlackNotifier(token, channel string, log logr.Logger) *SlackNotifier {
	if token == "" {
		return &SlackNotifier{log: log}
	}
	return &SlackNotifier{client: slack.New(token), channel: channel, log: log}
}

// NotifyApprovalPending posts a message announcing a new pending
// approval request. Failure is logged and swallowed — this is an
// ambient notification, not part of the approval's correctness.
func (n *SlackNotifier) NotifyApprovalPending(ctx context.Context, executionID, nodeID, requestType, message string) {
	if n == nil || n.client == nil {
		return
	}

	text := fmt.Sprintf("Approval requested: execution=%s node=%s type=%s\n%s", executionID, nodeID, requestType, message)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		n.log.Info("slack notification failed, continuing", "execution_id", executionID, "error", err.Error())
	}
}
