package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
)

// PromptTemplate defines the structure for stage prompts
type PromptTemplate struct {
	SystemPrompt string
	ContextRules []string
}

// Prompt keys.
const (
	PromptAdmin            = "admin"
	PromptDemoSetup        = "demo_setup"
	PromptDemoUnconfigured = "demo_unconfigured"
)

// PromptManager manages prompt templates for the conversational stages
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a new prompt manager with default templates
func NewPromptManager() *PromptManager {
	manager := &PromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template registered under key
func (pm *PromptManager) GetPromptTemplate(key string) (*PromptTemplate, error) {
	template, exists := pm.templates[key]
	if !exists {
		return nil, fmt.Errorf("prompt template not found: %s", key)
	}
	return template, nil
}

// BuildSystemPrompt renders the system prompt registered under key
func (pm *PromptManager) BuildSystemPrompt(key string) (string, error) {
	template, err := pm.GetPromptTemplate(key)
	if err != nil {
		return "", err
	}
	if len(template.ContextRules) == 0 {
		return template.SystemPrompt, nil
	}

	var b strings.Builder
	b.WriteString(template.SystemPrompt)
	b.WriteString("\n\n# GUIDELINES (Правила поведения)\n")
	for i, rule := range template.ContextRules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// BuildDemoPrompt materialises the demo actor instruction for a configured business.
func (pm *PromptManager) BuildDemoPrompt(cfg persona.Config) string {
	return fmt.Sprintf(`# ROLE
Ты - AI-агент в режиме "Симуляция". Сейчас ты играешь роль виртуального сотрудника бизнеса.
Твоя задача - продемонстрировать навыки общения, идеально следуя заданной роли и тональности. В этой роли ты должен стараться продать клиенту услугу или товар, но не быть слишком навязчивым.

# BUSINESS CONTEXT (Данные о бизнесе)
Ниша бизнеса: %s
Название компании: %s

# YOUR PERSONALITY & INSTRUCTIONS (Инструкция к роли)
%s

Приветственное сообщение: %s

# GUIDELINES (Правила поведения)
1. Держи образ: полностью погрузись в роль. Не пиши "как языковая модель". Ты - живой сотрудник.
2. Если тебе задают вопрос о наличии товаров или услуг, придумай список товаров и сразу указывай цены. Подтолкни клиента к покупке.
3. Если спрашивают о ценах или товарах, которых нет в инструкции, придумывай реалистичные данные, подходящие под нишу.
4. Твои ответы должны быть емкими и естественными (1-3 предложения).
5. Если клиент просит связаться с менеджером, вызови инструмент %s.`,
		cfg.Niche,
		cfg.CompanyName,
		cfg.PersonaInstruction,
		cfg.WelcomeMessage,
		ToolCallManager,
	)
}

// loadDefaultTemplates registers the built-in stage prompts
func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[PromptAdmin] = &PromptTemplate{
		SystemPrompt: `# ROLE
Ты - AI-ассистент компании, который продает услугу "виртуальный сотрудник для бизнеса".
Отвечай на вопросы клиента о продукте, тарифах и подключении. Предлагай посмотреть демонстрацию.`,
		ContextRules: []string{
			"Отвечай кратко и по делу, на языке клиента.",
			"Если клиент согласился на демонстрацию или хочет посмотреть симуляцию, вызови инструмент " + ToolSwitchToDemo + " и не пиши ответ.",
			"Если клиент хочет обсудить сотрудничество или просит связаться с человеком, вызови инструмент " + ToolCallManager + ".",
			"Если инструменты недоступны, напиши " + SentinelSwitchToDemo + " для перехода к демонстрации или " + SentinelCallManager + " для вызова менеджера.",
		},
	}

	pm.templates[PromptDemoSetup] = &PromptTemplate{
		SystemPrompt: `# ROLE
Ты настраиваешь демонстрацию. По истории диалога определи бизнес клиента и подготовь роль виртуального сотрудника.

# OUTPUT
Верни только JSON-объект без пояснений:
{"niche": "ниша бизнеса", "company_name": "название компании", "persona_instruction": "инструкция для роли сотрудника", "welcome_message": "приветственное сообщение"}`,
		ContextRules: []string{
			"Все четыре поля обязательны и не могут быть пустыми.",
			"Если название компании не упоминалось, придумай правдоподобное название для ниши.",
			"Инструкция для роли описывает тон, манеру общения и задачи сотрудника.",
		},
	}

	pm.templates[PromptDemoUnconfigured] = &PromptTemplate{
		SystemPrompt: `# ROLE
Ты - AI-агент в режиме "Симуляция". Данные о бизнесе клиента пока неизвестны.
Сыграй роль вежливого сотрудника универсального магазина и вырази готовность помочь.`,
		ContextRules: []string{
			"Твои ответы должны быть емкими и естественными (1-3 предложения).",
			"Если клиент просит связаться с менеджером, вызови инструмент " + ToolCallManager + ".",
		},
	}
}
