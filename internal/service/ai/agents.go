package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

// Agent names recorded as last_agent_name.
const (
	AgentAdmin     = "admin_agent"
	AgentDemo      = "demo_agent"
	AgentDemoSetup = "demo_setup_agent"
)

// ModelFactory creates a fresh chat model instance. Each tool set gets its
// own instance because BindTools mutates the model.
type ModelFactory func(ctx context.Context) (model.ChatModel, error)

// Agents holds the agents built once at startup plus what is needed to
// materialise configured demo agents per session.
type Agents struct {
	Admin            *ChatAgent
	DemoSetup        *ChatAgent
	DemoUnconfigured *ChatAgent

	// demoModel already has the demo tools bound and is shared by every demo agent.
	demoModel    model.ChatModel
	prompts      *PromptManager
	historyLimit int
}

// NewAgents builds the admin, demo-setup and unconfigured demo agents.
func NewAgents(ctx context.Context, newModel ModelFactory, historyLimit int) (*Agents, error) {
	if newModel == nil {
		return nil, fmt.Errorf("chat model factory is required")
	}
	prompts := NewPromptManager()

	build := func(name, key string, tools []*schema.ToolInfo) (*ChatAgent, model.ChatModel, error) {
		system, err := prompts.BuildSystemPrompt(key)
		if err != nil {
			return nil, nil, err
		}
		chatModel, err := newModel(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create chat model: %w", err)
		}
		agent, err := NewChatAgent(ctx, name, chatModel, system, tools, historyLimit)
		if err != nil {
			return nil, nil, err
		}
		return agent, chatModel, nil
	}

	admin, _, err := build(AgentAdmin, PromptAdmin, []*schema.ToolInfo{SwitchToDemoTool(), CallManagerTool()})
	if err != nil {
		return nil, fmt.Errorf("build admin agent: %w", err)
	}

	setup, _, err := build(AgentDemoSetup, PromptDemoSetup, nil)
	if err != nil {
		return nil, fmt.Errorf("build demo setup agent: %w", err)
	}

	demo, demoModel, err := build(AgentDemo, PromptDemoUnconfigured, []*schema.ToolInfo{CallManagerTool()})
	if err != nil {
		return nil, fmt.Errorf("build demo agent: %w", err)
	}

	return &Agents{
		Admin:            admin,
		DemoSetup:        setup,
		DemoUnconfigured: demo,
		demoModel:        demoModel,
		prompts:          prompts,
		historyLimit:     historyLimit,
	}, nil
}

// NewDemoAgent builds a demo agent playing the business described by cfg.
// It reuses the demo model, which already carries the call_manager tool.
func (a *Agents) NewDemoAgent(ctx context.Context, cfg persona.Config) (*ChatAgent, error) {
	return NewChatAgent(ctx, AgentDemo, a.demoModel, a.prompts.BuildDemoPrompt(cfg), nil, a.historyLimit)
}
