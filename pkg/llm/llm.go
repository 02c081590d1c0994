package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gruntyhq/grunty/internal/config"
)

// GenerateAppTool is the function the chat model calls when the user wants
// an app built or changed.
const GenerateAppTool = "generate_streamlit_app"

const defaultChatName = "New Chat"

const chatSystemInstruction = `You are a data analysis assistant. You help users explore uploaded
datasets and build small Streamlit apps that visualize them. Answer data questions directly.
When the user asks for an app, a dashboard, a chart, or changes to an existing app, call the
generate_streamlit_app function with a precise description of what to build; do not write code
in your chat reply.`

const codeSystemInstruction = `You write complete, self-contained Streamlit applications in Python.
Output only raw Python code for a single file, no markdown fences and no commentary. The app reads
its data from /app/data.csv with pandas when a dataset is described. Use streamlit, pandas, and
plotly.express only. The code must run as written.`

const titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
	"The title should be 4-6 words maximum with no punctuation. Just return the title itself, nothing else."

// Message is one prior turn of a conversation.
type Message struct {
	Role string // "user" or "model"
	Text string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Chunk is one streamed piece of a model response. Exactly one of the value
// fields is set; Err or Done terminates the stream.
type Chunk struct {
	Text       string
	ToolCall   *ToolCall
	TokenCount int
	Done       bool
	Err        error
}

// Client wraps the Gemini API for chat, code generation, and titling.
type Client struct {
	client *genai.Client
	cfg    config.LLMConfig
	logger *zap.Logger
}

// NewClient creates a Gemini-backed client. The API key comes from the
// GEMINI_API_KEY environment variable via option.WithAPIKey upstream.
func NewClient(ctx context.Context, apiKey string, cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Client{client: client, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

func generateAppDeclaration() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        GenerateAppTool,
			Description: "Generate or update a Streamlit data app from the user's request and the uploaded dataset.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {
						Type:        genai.TypeString,
						Description: "What the app should show or do, in full detail.",
					},
				},
				Required: []string{"query"},
			},
		}},
	}
}

// sendChunk delivers c unless ctx is cancelled first, so a producer never
// blocks forever on a consumer that stopped reading.
func sendChunk(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// StreamChat sends a user message with history and file context to the chat
// model and streams the response. Text deltas and tool calls arrive as
// chunks; the final chunk carries Done and the total token count. The
// channel is closed when the stream ends. Cancelling ctx stops the stream.
func (c *Client) StreamChat(ctx context.Context, history []Message, userMessage, fileContext string) <-chan Chunk {
	out := make(chan Chunk, 8)

	go func() {
		defer close(out)

		model := c.client.GenerativeModel(c.cfg.ChatModel)
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(chatSystemInstruction)},
		}
		model.Tools = []*genai.Tool{generateAppDeclaration()}

		session := model.StartChat()
		for _, msg := range history {
			session.History = append(session.History, &genai.Content{
				Role:  msg.Role,
				Parts: []genai.Part{genai.Text(msg.Text)},
			})
		}

		prompt := userMessage
		if fileContext != "" {
			prompt = fileContext + "\n\n" + userMessage
		}

		iter := session.SendMessageStream(ctx, genai.Text(prompt))
		tokenCount := 0

		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				sendChunk(ctx, out, Chunk{Err: fmt.Errorf("chat stream failed: %w", err)})
				return
			}

			if resp.UsageMetadata != nil {
				tokenCount = int(resp.UsageMetadata.TotalTokenCount)
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch p := part.(type) {
					case genai.Text:
						if len(p) > 0 {
							if !sendChunk(ctx, out, Chunk{Text: string(p)}) {
								return
							}
						}
					case genai.FunctionCall:
						if !sendChunk(ctx, out, Chunk{ToolCall: &ToolCall{Name: p.Name, Args: p.Args}}) {
							return
						}
					}
				}
			}
		}

		sendChunk(ctx, out, Chunk{Done: true, TokenCount: tokenCount})
	}()

	return out
}

// ContinueWithToolResult reports a tool outcome back to the model and
// streams its follow-up reply. History must include the turn that issued
// the call.
func (c *Client) ContinueWithToolResult(ctx context.Context, history []Message, call *ToolCall, result map[string]any) <-chan Chunk {
	out := make(chan Chunk, 8)

	go func() {
		defer close(out)

		model := c.client.GenerativeModel(c.cfg.ChatModel)
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(chatSystemInstruction)},
		}
		model.Tools = []*genai.Tool{generateAppDeclaration()}

		session := model.StartChat()
		for _, msg := range history {
			session.History = append(session.History, &genai.Content{
				Role:  msg.Role,
				Parts: []genai.Part{genai.Text(msg.Text)},
			})
		}
		session.History = append(session.History, &genai.Content{
			Role:  "model",
			Parts: []genai.Part{genai.FunctionCall{Name: call.Name, Args: call.Args}},
		})

		iter := session.SendMessageStream(ctx, genai.FunctionResponse{
			Name:     call.Name,
			Response: result,
		})
		tokenCount := 0

		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				sendChunk(ctx, out, Chunk{Err: fmt.Errorf("tool follow-up stream failed: %w", err)})
				return
			}
			if resp.UsageMetadata != nil {
				tokenCount = int(resp.UsageMetadata.TotalTokenCount)
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if txt, ok := part.(genai.Text); ok && len(txt) > 0 {
						if !sendChunk(ctx, out, Chunk{Text: string(txt)}) {
							return
						}
					}
				}
			}
		}

		sendChunk(ctx, out, Chunk{Done: true, TokenCount: tokenCount})
	}()

	return out
}

// GenerateCode produces a complete Streamlit app for the given query,
// dataset description, and optionally the previous version's code.
func (c *Client) GenerateCode(ctx context.Context, query, fileContext, previousCode string) (string, int, error) {
	model := c.client.GenerativeModel(c.cfg.CodeModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(codeSystemInstruction)},
	}

	var prompt strings.Builder
	if fileContext != "" {
		prompt.WriteString("Dataset:\n")
		prompt.WriteString(fileContext)
		prompt.WriteString("\n\n")
	}
	if previousCode != "" {
		prompt.WriteString("Current app code:\n")
		prompt.WriteString(previousCode)
		prompt.WriteString("\n\nModify the app as follows: ")
	} else {
		prompt.WriteString("Build a Streamlit app: ")
	}
	prompt.WriteString(query)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return "", 0, fmt.Errorf("code generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, fmt.Errorf("code generation returned no candidates")
	}

	var code strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			code.WriteString(string(txt))
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	cleaned := stripCodeFences(code.String())
	if strings.TrimSpace(cleaned) == "" {
		return "", tokens, fmt.Errorf("code generation returned empty code")
	}
	return cleaned, tokens, nil
}

// GenerateTitle names a chat from its first message. Failures fall back to
// the default chat name rather than erroring.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage string) string {
	model := c.client.GenerativeModel(c.cfg.TitleModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}

	prompt := fmt.Sprintf("Generate a very concise title (4-6 words maximum, no punctuation) for a conversation that starts with: %q", firstMessage)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		c.logger.Warn("title generation failed", zap.Error(err))
		return defaultChatName
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return defaultChatName
	}

	var title strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			title.WriteString(string(txt))
		}
	}

	cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(title.String()), `"'.`))
	if cleaned == "" {
		return defaultChatName
	}
	return cleaned
}

// stripCodeFences removes a surrounding markdown code fence if the model
// added one despite instructions.
func stripCodeFences(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```python")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
