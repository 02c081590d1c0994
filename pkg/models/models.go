package models

import "time"

// SandboxStatus represents the current state of a sandbox session
type SandboxStatus string

const (
	SandboxCreating SandboxStatus = "creating"
	SandboxReady    SandboxStatus = "ready"
	SandboxRunning  SandboxStatus = "running"
	SandboxKilled   SandboxStatus = "killed"
)

// Chat is a conversation owned by a single user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	AppID     *string   `json:"app_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one user/assistant exchange within a chat. Once both sides
// are recorded the row is append-only.
type Message struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage *string   `json:"assistant_message,omitempty"`
	ToolCalls        *string   `json:"tool_calls,omitempty"`
	ToolResults      *string   `json:"tool_results,omitempty"`
	TokenCount       int       `json:"token_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// File is an uploaded file, optionally associated with chats.
type File struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	ContentType string       `json:"content_type"`
	SizeBytes   int64        `json:"size_bytes"`
	StorageKey  string       `json:"storage_key,omitempty"`
	Analysis    *CSVAnalysis `json:"analysis,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CSVColumn describes one column of a tabular file.
type CSVColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CSVAnalysis is the synchronous analysis computed on CSV upload.
type CSVAnalysis struct {
	Columns    []CSVColumn `json:"columns"`
	TotalRows  int         `json:"total_rows"`
	SampleRows [][]string  `json:"sample_rows"`
}

// App is a generated Streamlit application.
type App struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	CurrentVersionID *string   `json:"current_version_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AppVersion is one immutable revision of an app's generated code.
// Version numbers are strictly increasing per app.
type AppVersion struct {
	ID            string    `json:"id"`
	AppID         string    `json:"app_id"`
	VersionNumber int       `json:"version_number"`
	Code          string    `json:"code"`
	ScreenshotKey *string   `json:"screenshot_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SandboxSession is the persisted record of a user's sandbox. The live
// handle is process-local; this row is what survives a restart.
type SandboxSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Namespace string        `json:"namespace"`
	PodName   string        `json:"pod_name"`
	Status    SandboxStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// CreateChatRequest is the body for POST /conversations.
type CreateChatRequest struct {
	Name string `json:"name,omitempty"`
}

// UpdateChatRequest is the body for PATCH /conversations/{id}.
type UpdateChatRequest struct {
	Name string `json:"name"`
}

// PostMessageRequest appends a user message to a chat.
type PostMessageRequest struct {
	Content string `json:"content"`
}

// UploadFileRequest is the JSON body for POST /files.
type UploadFileRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty"`
}

// AssociateFileRequest links a file to a chat.
type AssociateFileRequest struct {
	FileID string `json:"file_id"`
}

// CreateAppRequest is the body for POST /apps.
type CreateAppRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateVersionRequest is the body for POST /apps/{id}/versions.
type CreateVersionRequest struct {
	Code string `json:"code"`
}

// SwitchVersionRequest selects the app's current version.
type SwitchVersionRequest struct {
	VersionID string `json:"version_id"`
}

// ExecuteRequest is the body for POST /sandbox/{id}/execute.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// ExecuteResponse reports where the served app is reachable. SandboxID may
// differ from the requested id when a stale sandbox was transparently
// replaced; callers must reconnect with the returned id.
type ExecuteResponse struct {
	URL       string `json:"url"`
	SandboxID string `json:"sandbox_id"`
}

// StreamRequest starts a generation stream for a chat.
type StreamRequest struct {
	Content string `json:"content"`
	FileID  string `json:"file_id,omitempty"`
}

// StreamEvent is one newline-delimited JSON frame on the event stream.
// Type is one of "delta", "tool_call", "app", "done", "error".
type StreamEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
	URL       string `json:"url,omitempty"`
	SandboxID string `json:"sandbox_id,omitempty"`
	Version   int    `json:"version,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// UsageResponse reports a user's accumulated usage against plan limits.
type UsageResponse struct {
	Plan          string `json:"plan"`
	MessageCount  int64  `json:"message_count"`
	TokenCount    int64  `json:"token_count"`
	MessageLimit  int64  `json:"message_limit"`
	TokenLimit    int64  `json:"token_limit"`
	LimitExceeded bool   `json:"limit_exceeded"`
}

// ChatListResponse is a page of chats.
type ChatListResponse struct {
	Chats []*Chat `json:"chats"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
	Total int     `json:"total"`
}

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
