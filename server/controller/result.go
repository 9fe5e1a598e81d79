package controller

import (
	"github.com/hrygo/replybridge/server/pipeline"
	"github.com/hrygo/replybridge/store"
)

// Result is the outcome of a control operation. Errors are reported here and
// never returned to the caller.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Success }

func ok(msg string) Result { return Result{Success: true, Message: msg} }

func fail(err error) Result { return Result{Success: false, Message: err.Error()} }

func failMsg(msg string) Result { return Result{Success: false, Message: msg} }

// ConnectionStatus describes the connection and loop liveness.
type ConnectionStatus struct {
	Result
	Connected      bool               `json:"connected"`
	State          pipeline.ConnState `json:"state"`
	Nickname       string             `json:"nickname,omitempty"`
	AccountID      string             `json:"account_id,omitempty"`
	Tenant         string             `json:"tenant"`
	SessionID      string             `json:"session_id,omitempty"`
	MonitorAlive   bool               `json:"monitor_alive"`
	ProcessorAlive bool               `json:"processor_alive"`
	MonitorState   pipeline.LoopState `json:"monitor_state"`
	QueueDepth     int                `json:"queue_depth"`
}

// MonitoringStatus is the persisted monitoring flag of one conversation.
type MonitoringStatus struct {
	Result
	IsMonitoring bool `json:"is_monitoring"`
}

// AutoReplyStatus is the tenant auto-reply flag and the watched conversations.
type AutoReplyStatus struct {
	Result
	Enabled           bool                             `json:"enabled"`
	MonitoredContacts map[string]pipeline.ContactState `json:"monitored_contacts"`
}

// AIConfigResult carries a masked configuration.
type AIConfigResult struct {
	Result
	Config *store.AIConfig `json:"config,omitempty"`
}

// SuggestionsResult lists reply suggestions.
type SuggestionsResult struct {
	Result
	Suggestions []*store.ReplySuggestion `json:"suggestions"`
}

// MessagesResult is one page of a conversation, oldest first.
type MessagesResult struct {
	Result
	Messages    []*store.Message         `json:"messages"`
	Total       int                      `json:"total"`
	HasMore     bool                     `json:"has_more"`
	Suggestions []*store.ReplySuggestion `json:"suggestions,omitempty"`
	// Fetched is the number of messages pulled from the client by a refresh.
	Fetched int `json:"fetched,omitempty"`
}

// BulkSendResult reports per-recipient delivery.
type BulkSendResult struct {
	Result
	Sent   int      `json:"sent"`
	Failed []string `json:"failed,omitempty"`
}

// ContactView is a stored contact with its live monitoring entry.
type ContactView struct {
	*store.Contact
	Monitoring bool `json:"monitoring"`
	AutoReply  bool `json:"auto_reply"`
}

// ContactsResult lists known contacts, monitored ones first.
type ContactsResult struct {
	Result
	Contacts []*ContactView `json:"contacts"`
}
