package ai

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Control tools exposed to the models.
const (
	ToolSwitchToDemo = "switch_to_demo"
	ToolCallManager  = "call_manager"
)

// Sentinels a model may emit in plain text when it cannot produce a structured tool call.
const (
	SentinelSwitchToDemo = "[SWITCH_TO_DEMO_RESULT]"
	SentinelCallManager  = "[CALL_MANAGER_RESULT]"
)

// SwitchToDemoTool lets the admin agent hand the conversation over to the demo simulation.
func SwitchToDemoTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: ToolSwitchToDemo,
		Desc: "Используй этот инструмент, если пользователь согласился на демонстрацию, " +
			"хочет попробовать демо-режим или посмотреть симуляцию. После вызова не пиши ответ, " +
			"демонстрация начнется автоматически.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

// CallManagerTool escalates the conversation to a human manager.
func CallManagerTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: ToolCallManager,
		Desc: "Передай диалог менеджеру, если клиент просит связаться с человеком, " +
			"готов обсудить сотрудничество или задает вопрос, на который нельзя ответить.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_message": {
				Type:     schema.String,
				Desc:     "Сообщение для клиента о том, что менеджер скоро свяжется с ним",
				Required: true,
			},
			"manager_alert": {
				Type:     schema.String,
				Desc:     "Краткая сводка для менеджера: кто клиент и что ему нужно",
				Required: true,
			},
		}),
	}
}

// Escalation is a request for a human operator to take over.
type Escalation struct {
	UserMessage string `json:"user_message"`
	AlertText   string `json:"manager_alert"`
}

const defaultEscalationMessage = "Спасибо! Я передал ваш запрос менеджеру, он свяжется с вами в ближайшее время."

// parseEscalationArgs decodes call_manager arguments, filling gaps with fallbacks.
func parseEscalationArgs(arguments, fallbackMessage string) *Escalation {
	esc := &Escalation{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), esc); err != nil {
			log.Printf("[ai] malformed call_manager arguments %q, using fallback: %v", arguments, err)
			esc = &Escalation{}
		}
	}
	esc.UserMessage = strings.TrimSpace(esc.UserMessage)
	esc.AlertText = strings.TrimSpace(esc.AlertText)
	if esc.UserMessage == "" {
		esc.UserMessage = strings.TrimSpace(fallbackMessage)
	}
	if esc.UserMessage == "" {
		esc.UserMessage = defaultEscalationMessage
	}
	if esc.AlertText == "" {
		esc.AlertText = "Клиент запросил связь с менеджером"
	}
	return esc
}

// escalationFromSentinel handles replies of the form
// "<text> [CALL_MANAGER_RESULT] {json}". The JSON tail is optional.
func escalationFromSentinel(reply string) (*Escalation, bool) {
	idx := strings.Index(reply, SentinelCallManager)
	if idx < 0 {
		return nil, false
	}
	before := strings.TrimSpace(reply[:idx])
	after := strings.TrimSpace(reply[idx+len(SentinelCallManager):])

	if strings.HasPrefix(after, "{") {
		return parseEscalationArgs(after, before), true
	}
	text := strings.TrimSpace(before + " " + after)
	return parseEscalationArgs("", text), true
}
