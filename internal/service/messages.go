package service

import (
	"context"

	"github.com/Veraticus/subdupes/internal/model"
)

// MessageType names a cross-context message.
type MessageType string

// Message types exchanged between the scanning side, UIs and the background context.
const (
	MsgSubscriptionDetected    MessageType = "SUBSCRIPTION_DETECTED"
	MsgSubscriptionPromptReady MessageType = "SUBSCRIPTION_PROMPT_READY"
	MsgSaveFromPrompt          MessageType = "SAVE_FROM_PROMPT"
	MsgDismissDomain           MessageType = "DISMISS_DOMAIN"
	MsgSyncPending             MessageType = "SYNC_PENDING"
	MsgSyncNow                 MessageType = "CMD_SYNC_NOW"
	MsgResolveConflict         MessageType = "RESOLVE_CONFLICT"
	MsgGetPendingCount         MessageType = "GET_PENDING_COUNT"
	MsgDraftConsumed           MessageType = "CMD_DRAFT_CONSUMED"
	MsgURLVisited              MessageType = "URL_VISITED"
	MsgScanPage                MessageType = "CMD_SCAN_PAGE"
)

// Message is a request sent to a Handler. Only the fields relevant to Type are set.
type Message struct {
	Candidate *model.SubscriptionCandidate `json:"candidate,omitempty"`
	Pending   *model.PendingSubscription   `json:"pending,omitempty"`
	Existing  *model.ExistingSubscription  `json:"existing,omitempty"`
	Type      MessageType                  `json:"type"`
	Action    model.ConflictAction         `json:"action,omitempty"`
	Domain    string                       `json:"domain,omitempty"`
	URL       string                       `json:"url,omitempty"`
	Source    model.Source                 `json:"source,omitempty"`
}

// Response is the reply to a Message.
type Response struct {
	Summary    *model.SyncSummary          `json:"summary,omitempty"`
	Resolution *model.Resolution           `json:"resolution,omitempty"`
	Match      *model.ExistingSubscription `json:"match,omitempty"`
	Notice     string                      `json:"notice,omitempty"`
	Error      string                      `json:"error,omitempty"`
	Count      int                         `json:"count,omitempty"`
	Success    bool                        `json:"success"`
}

// Handler processes messages. The background context is the main implementation.
type Handler interface {
	Handle(ctx context.Context, msg Message) Response
}

// Fail builds an unsuccessful response from err.
func Fail(err error) Response {
	return Response{Error: err.Error()}
}
