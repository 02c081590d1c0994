package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/internal/config"
	"github.com/gruntyhq/grunty/pkg/analyzer"
	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/llm"
	"github.com/gruntyhq/grunty/pkg/models"
	"github.com/gruntyhq/grunty/pkg/sandbox"
	"github.com/gruntyhq/grunty/pkg/storage"
	"github.com/gruntyhq/grunty/pkg/usage"
	"github.com/gruntyhq/grunty/pkg/validator"
)

// checkpointInterval is how often partial assistant text is flushed to the
// message row during streaming.
const checkpointInterval = 2 * time.Second

const defaultChatName = "New Chat"

// Orchestrator runs the chat generation pipeline: model streaming, app
// code generation, sandbox deployment, and persistence.
type Orchestrator struct {
	db      *database.DB
	llm     *llm.Client
	sandbox *sandbox.Manager
	storage *storage.Service
	usage   *usage.Service
	limits  config.LimitConfig
	logger  *zap.Logger
}

// New creates an orchestrator
func New(db *database.DB, llmClient *llm.Client, sandboxManager *sandbox.Manager, storageService *storage.Service, usageService *usage.Service, limits config.LimitConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		db:      db,
		llm:     llmClient,
		sandbox: sandboxManager,
		storage: storageService,
		usage:   usageService,
		limits:  limits,
		logger:  logger,
	}
}

// EmitFunc receives stream events as they happen. Returning an error stops
// the stream (the client went away).
type EmitFunc func(event models.StreamEvent) error

// Turn is one generation turn whose preconditions have been checked.
type Turn struct {
	userID      string
	chat        *models.Chat
	content     string
	history     []llm.Message
	isFirst     bool
	file        *models.File
	fileContext string
}

// Prepare checks chat ownership, plan allowance, and the optional file link
// for a generation request, and assembles the model context. It runs before
// the caller commits a response status, so failures here can still surface
// as plain HTTP errors instead of in-band stream events.
func (o *Orchestrator) Prepare(ctx context.Context, userID, chatID string, req *models.StreamRequest) (*Turn, error) {
	chat, err := o.db.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	if err := o.usage.CheckAllowance(ctx, userID); err != nil {
		return nil, err
	}

	if req.FileID != "" {
		if _, err := o.db.GetFile(ctx, req.FileID, userID); err != nil {
			return nil, err
		}
		if err := o.db.AssociateFile(ctx, chatID, req.FileID); err != nil {
			return nil, err
		}
	}

	history, isFirst, err := o.buildHistory(ctx, chatID)
	if err != nil {
		return nil, err
	}

	file, fileContext, err := o.fileContext(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	return &Turn{
		userID:      userID,
		chat:        chat,
		content:     req.Content,
		history:     history,
		isFirst:     isFirst,
		file:        file,
		fileContext: fileContext,
	}, nil
}

// Stream runs a prepared turn. Events flow to emit as they are produced;
// the full exchange is persisted when the turn ends. Cancelling ctx
// abandons the turn after the current write completes.
func (o *Orchestrator) Stream(ctx context.Context, prepared *Turn, emit EmitFunc) error {
	messageID := uuid.New().String()
	if _, err := o.db.CreateMessage(ctx, messageID, prepared.chat.ID, prepared.content); err != nil {
		return err
	}

	turn := &turnState{
		orchestrator: o,
		userID:       prepared.userID,
		chat:         prepared.chat,
		messageID:    messageID,
		file:         prepared.file,
		fileContext:  prepared.fileContext,
		emit:         emit,
		lastFlush:    time.Now(),
	}

	llmCtx, cancel := context.WithTimeout(ctx, time.Duration(o.limits.LLMTimeoutSeconds)*time.Second)
	defer cancel()

	if err := turn.run(llmCtx, prepared.history, prepared.content); err != nil {
		// Persist whatever was streamed before the failure.
		turn.flush(context.Background())
		return err
	}

	if err := turn.finish(ctx); err != nil {
		return err
	}

	if prepared.isFirst && prepared.chat.Name == defaultChatName {
		o.titleChat(prepared.userID, prepared.chat.ID, prepared.content)
	}

	return nil
}

// turnState accumulates one assistant turn as it streams.
type turnState struct {
	orchestrator *Orchestrator
	userID       string
	chat         *models.Chat
	messageID    string
	file         *models.File
	fileContext  string
	emit         EmitFunc

	text        strings.Builder
	toolCalls   []map[string]any
	toolResults []map[string]any
	tokenCount  int
	lastFlush   time.Time
}

func (t *turnState) run(ctx context.Context, history []llm.Message, content string) error {
	chunks := t.orchestrator.llm.StreamChat(ctx, history, content, t.fileContext)

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return chunk.Err

		case chunk.Done:
			t.tokenCount += chunk.TokenCount

		case chunk.ToolCall != nil:
			if err := t.handleToolCall(ctx, history, content, chunk.ToolCall); err != nil {
				return err
			}

		case chunk.Text != "":
			t.text.WriteString(chunk.Text)
			if err := t.emit(models.StreamEvent{Type: "delta", Text: chunk.Text}); err != nil {
				return err
			}
			t.maybeFlush(ctx)
		}
	}

	return nil
}

func (t *turnState) handleToolCall(ctx context.Context, history []llm.Message, content string, call *llm.ToolCall) error {
	if call.Name != llm.GenerateAppTool {
		return fmt.Errorf("model requested unknown tool %q", call.Name)
	}

	if err := t.emit(models.StreamEvent{Type: "tool_call", Tool: call.Name}); err != nil {
		return err
	}
	t.toolCalls = append(t.toolCalls, map[string]any{"name": call.Name, "args": call.Args})

	query, _ := call.Args["query"].(string)
	if query == "" {
		query = content
	}

	result, err := t.orchestrator.generateAndDeploy(ctx, t.userID, t.chat, query, t.file, t.fileContext)
	if err != nil {
		t.toolResults = append(t.toolResults, map[string]any{"error": err.Error()})
		return err
	}
	t.toolResults = append(t.toolResults, map[string]any{
		"url":        result.URL,
		"sandbox_id": result.SandboxID,
		"version":    result.Version,
	})

	if err := t.emit(models.StreamEvent{
		Type:      "app",
		URL:       result.URL,
		SandboxID: result.SandboxID,
		Version:   result.Version,
	}); err != nil {
		return err
	}

	// Report the outcome back so the model can describe what it built.
	followUp := t.orchestrator.llm.ContinueWithToolResult(ctx,
		append(history, llm.Message{Role: "user", Text: content}),
		call,
		map[string]any{"status": "deployed", "url": result.URL})

	for chunk := range followUp {
		switch {
		case chunk.Err != nil:
			return chunk.Err
		case chunk.Done:
			t.tokenCount += chunk.TokenCount
		case chunk.Text != "":
			t.text.WriteString(chunk.Text)
			if err := t.emit(models.StreamEvent{Type: "delta", Text: chunk.Text}); err != nil {
				return err
			}
			t.maybeFlush(ctx)
		}
	}

	return nil
}

// maybeFlush checkpoints partial assistant text so a crash mid-stream
// loses at most a couple seconds of output.
func (t *turnState) maybeFlush(ctx context.Context) {
	if time.Since(t.lastFlush) < checkpointInterval {
		return
	}
	t.flush(ctx)
}

func (t *turnState) flush(ctx context.Context) {
	t.lastFlush = time.Now()
	partial := t.text.String()
	err := t.orchestrator.db.CompleteMessage(ctx, t.messageID, partial, t.marshalCalls(), t.marshalResults(), t.tokenCount)
	if err != nil {
		t.orchestrator.logger.Warn("failed to checkpoint message",
			zap.String("message_id", t.messageID), zap.Error(err))
	}
}

func (t *turnState) marshalCalls() *string {
	if len(t.toolCalls) == 0 {
		return nil
	}
	data, _ := json.Marshal(t.toolCalls)
	s := string(data)
	return &s
}

func (t *turnState) marshalResults() *string {
	if len(t.toolResults) == 0 {
		return nil
	}
	data, _ := json.Marshal(t.toolResults)
	s := string(data)
	return &s
}

func (t *turnState) finish(ctx context.Context) error {
	o := t.orchestrator

	err := o.db.CompleteMessage(ctx, t.messageID, t.text.String(), t.marshalCalls(), t.marshalResults(), t.tokenCount)
	if err != nil {
		return err
	}

	if err := o.db.TouchChat(ctx, t.chat.ID, t.userID); err != nil {
		o.logger.Warn("failed to touch chat", zap.Error(err))
	}
	if err := o.usage.Record(ctx, t.userID, t.tokenCount); err != nil {
		o.logger.Warn("failed to record usage", zap.Error(err))
	}

	return t.emit(models.StreamEvent{Type: "done", MessageID: t.messageID})
}

// deployResult describes a generated and deployed app version.
type deployResult struct {
	URL       string
	SandboxID string
	Version   int
}

// generateAndDeploy turns a tool call into a new app version running in
// the user's sandbox.
func (o *Orchestrator) generateAndDeploy(ctx context.Context, userID string, chat *models.Chat, query string, file *models.File, fileContext string) (*deployResult, error) {
	previousCode := ""
	appID := ""
	if chat.AppID != nil {
		appID = *chat.AppID
		app, err := o.db.GetApp(ctx, appID, userID)
		if err != nil {
			return nil, err
		}
		if app.CurrentVersionID != nil {
			versions, err := o.db.ListAppVersions(ctx, appID, userID)
			if err != nil {
				return nil, err
			}
			for _, v := range versions {
				if v.ID == *app.CurrentVersionID {
					previousCode = v.Code
					break
				}
			}
		}
	}

	code, _, err := o.llm.GenerateCode(ctx, query, fileContext, previousCode)
	if err != nil {
		return nil, err
	}

	if err := validator.ValidateCode(code); err != nil {
		return nil, err
	}

	if appID == "" {
		name := chat.Name
		if name == "" || name == defaultChatName {
			name = "Generated App"
		}
		app, err := o.db.CreateApp(ctx, uuid.New().String(), userID, name, query)
		if err != nil {
			return nil, err
		}
		appID = app.ID
		if err := o.db.LinkChatApp(ctx, chat.ID, userID, appID); err != nil {
			return nil, err
		}
		chat.AppID = &appID
	}

	version, err := o.db.CreateAppVersion(ctx, appID, userID, code)
	if err != nil {
		return nil, err
	}

	var dataset []byte
	if file != nil && file.StorageKey != "" {
		dataset, err = o.storage.Get(ctx, file.StorageKey)
		if err != nil {
			o.logger.Warn("failed to fetch dataset for sandbox",
				zap.String("file_id", file.ID), zap.Error(err))
			dataset = nil
		}
	}

	run, err := o.sandbox.RunCode(ctx, userID, "", code, dataset)
	if err != nil {
		return nil, err
	}

	return &deployResult{
		URL:       run.URL,
		SandboxID: run.SandboxID,
		Version:   version.VersionNumber,
	}, nil
}

// buildHistory converts prior messages into model turns. The bool reports
// whether this is the chat's first exchange.
func (o *Orchestrator) buildHistory(ctx context.Context, chatID string) ([]llm.Message, bool, error) {
	messages, err := o.db.ListMessages(ctx, chatID, 0)
	if err != nil {
		return nil, false, err
	}

	var history []llm.Message
	for _, msg := range messages {
		history = append(history, llm.Message{Role: "user", Text: msg.UserMessage})
		if msg.AssistantMessage != nil && *msg.AssistantMessage != "" {
			history = append(history, llm.Message{Role: "model", Text: *msg.AssistantMessage})
		}
	}

	return history, len(messages) == 0, nil
}

// fileContext returns the newest file linked to the chat and its prompt
// description. No file is not an error.
func (o *Orchestrator) fileContext(ctx context.Context, chatID, userID string) (*models.File, string, error) {
	files, err := o.db.ListChatFiles(ctx, chatID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(files) == 0 {
		return nil, "", nil
	}

	file := files[len(files)-1]
	if file.Analysis == nil {
		return file, "", nil
	}
	return file, analyzer.Describe(file.Name, file.Analysis), nil
}

// titleChat names a chat from its first message in the background. The
// rename is skipped if the user renamed the chat meanwhile.
func (o *Orchestrator) titleChat(userID, chatID, firstMessage string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		title := o.llm.GenerateTitle(ctx, firstMessage)
		if title == defaultChatName {
			return
		}

		chat, err := o.db.GetChat(ctx, chatID, userID)
		if err != nil || chat.Name != defaultChatName {
			return
		}

		if err := o.db.UpdateChatName(ctx, chatID, userID, title); err != nil {
			o.logger.Warn("failed to set chat title",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}()
}

// RegenerateTitle names a chat from its first message on demand and persists
// the result. A chat with no messages, or a failed generation, keeps its
// current name.
func (o *Orchestrator) RegenerateTitle(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	chat, err := o.db.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := o.db.ListMessages(ctx, chatID, 1)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return chat, nil
	}

	title := o.llm.GenerateTitle(ctx, messages[0].UserMessage)
	if title == defaultChatName {
		return chat, nil
	}

	if err := o.db.UpdateChatName(ctx, chatID, userID, title); err != nil {
		return nil, err
	}
	chat.Name = title
	return chat, nil
}

// SaveScreenshot stores a preview image for an app version and records its
// key.
func (o *Orchestrator) SaveScreenshot(ctx context.Context, userID, appID string, versionNumber int, image []byte) (string, error) {
	version, err := o.db.GetAppVersion(ctx, appID, userID, versionNumber)
	if err != nil {
		return "", err
	}

	key := storage.ScreenshotKey(userID, appID, versionNumber)
	if err := o.storage.Put(ctx, key, "image/png", image); err != nil {
		return "", err
	}
	if err := o.db.SetVersionScreenshot(ctx, version.ID, key); err != nil {
		return "", err
	}

	return o.storage.SignedURL(ctx, key)
}
