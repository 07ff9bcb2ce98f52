package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/chat"
)

// Result is the outcome of a single agent invocation.
type Result struct {
	Reply        string
	InvokedTools []string
	Escalation   *Escalation
	// Messages are the turns produced by the agent (assistant and tool turns),
	// excluding the user message that triggered them.
	Messages []chat.Turn
}

// Invoked reports whether the named tool was called.
func (r *Result) Invoked(name string) bool {
	if r == nil {
		return false
	}
	for _, tool := range r.InvokedTools {
		if tool == name {
			return true
		}
	}
	return false
}

// ChatAgent runs a system prompt, bounded history and the user message through
// an eino chain backed by a tool-calling chat model.
type ChatAgent struct {
	name         string
	historyLimit int
	system       string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewChatAgent compiles the prompt chain for one conversational role.
// When tools are given they are bound onto chatModel, so the model must not
// be shared with agents that need a different tool set.
func NewChatAgent(ctx context.Context, name string, chatModel model.ChatModel, systemPrompt string, tools []*schema.ToolInfo, historyLimit int) (*ChatAgent, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required for agent %s", name)
	}

	if len(tools) > 0 {
		if err := chatModel.BindTools(tools); err != nil {
			return nil, fmt.Errorf("failed to bind tools for agent %s: %w", name, err)
		}
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain for agent %s: %w", name, err)
	}

	if historyLimit < 1 {
		historyLimit = 20
	}

	return &ChatAgent{
		name:         name,
		historyLimit: historyLimit,
		system:       systemPrompt,
		chain:        runnable,
	}, nil
}

// Name identifies the agent in logs and persisted metadata.
func (a *ChatAgent) Name() string {
	return a.name
}

// Run sends message with history to the model and interprets its tool calls.
func (a *ChatAgent) Run(ctx context.Context, message string, history []chat.Turn, sessionID string) (*Result, error) {
	input := map[string]any{
		"system":  a.system,
		"history": buildHistoryMessages(history, a.historyLimit),
		"query":   message,
	}

	response, err := a.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run agent %s: %w", a.name, err)
	}
	if response == nil {
		return nil, fmt.Errorf("agent %s returned no message", a.name)
	}

	result := interpretResponse(response)
	log.Printf("[ai] agent=%s session=%s tools=%v escalation=%t length=%d",
		a.name, sessionID, result.InvokedTools, result.Escalation != nil, len(result.Reply))
	return result, nil
}

// interpretResponse extracts reply, tool usage and escalation from a model message.
// Structured tool calls take priority; reply sentinels are honoured as a fallback.
func interpretResponse(msg *schema.Message) *Result {
	now := time.Now().UTC()
	result := &Result{Reply: strings.TrimSpace(msg.Content)}

	calls := make([]chat.ToolCall, 0, len(msg.ToolCalls))
	var toolTurns []chat.Turn
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		calls = append(calls, chat.ToolCall{ID: id, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		result.InvokedTools = append(result.InvokedTools, tc.Function.Name)

		output := "ok"
		if tc.Function.Name == ToolCallManager && result.Escalation == nil {
			result.Escalation = parseEscalationArgs(tc.Function.Arguments, result.Reply)
			output = "manager notified"
		}
		toolTurns = append(toolTurns, chat.Turn{
			ID:         uuid.NewString(),
			Role:       chat.RoleTool,
			Content:    output,
			ToolCallID: id,
			CreatedAt:  now,
		})
	}

	if strings.Contains(result.Reply, SentinelSwitchToDemo) {
		if !result.Invoked(ToolSwitchToDemo) {
			result.InvokedTools = append(result.InvokedTools, ToolSwitchToDemo)
		}
		result.Reply = strings.TrimSpace(strings.ReplaceAll(result.Reply, SentinelSwitchToDemo, ""))
	}

	if esc, ok := escalationFromSentinel(result.Reply); ok {
		if result.Escalation == nil {
			result.Escalation = esc
		}
		if !result.Invoked(ToolCallManager) {
			result.InvokedTools = append(result.InvokedTools, ToolCallManager)
		}
		result.Reply = result.Escalation.UserMessage
	}

	assistant := chat.Turn{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   result.Reply,
		ToolCalls: calls,
		CreatedAt: now,
	}
	if len(calls) == 0 {
		assistant.ToolCalls = nil
	}
	result.Messages = append([]chat.Turn{assistant}, toolTurns...)
	return result
}

// buildHistoryMessages converts the last limit turns into model messages.
func buildHistoryMessages(turns []chat.Turn, limit int) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(turns) > limit {
		startIdx = len(turns) - limit
	}
	// A tool result must follow the assistant message that requested it.
	for startIdx < len(turns) && turns[startIdx].Role == chat.RoleTool {
		startIdx++
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, toSchemaToolCalls(turn.ToolCalls)))
		case chat.RoleTool:
			history = append(history, schema.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return history
}

func toSchemaToolCalls(calls []chat.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, schema.ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return out
}
