package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/shaiso/flowbot/internal/domain"
	"github.com/shaiso/flowbot/internal/steps"
)

const defaultModel = openai.GPT4oMini

// ChatClient — часть openai.Client, которую используют коллабораторы.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig — настройки клиента OpenAI.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // пусто — api.openai.com
	Model   string        // default: gpt-4o-mini
	Timeout time.Duration // default: 10s

	Breaker BreakerConfig
}

// NewOpenAIClient создаёт клиент go-openai.
func NewOpenAIClient(cfg OpenAIConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(oc)
}

// chat — общий вызов chat completion с JSON ответом.
type chat struct {
	client  ChatClient
	model   string
	breaker *Breaker
}

func newChat(name string, client ChatClient, cfg OpenAIConfig) chat {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	bcfg := cfg.Breaker
	if bcfg.Name == "" {
		bcfg.Name = name
	}
	return chat{client: client, model: model, breaker: NewBreaker(bcfg)}
}

func (c chat) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var content string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: 0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return openAIError(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%w: no choices", ErrBadResponse)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

// openAIError переводит ошибку API в StatusError, чтобы breaker различал 4xx и 5xx.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("openai: %w", err)
}

// historyMessages переводит историю разговора в сообщения чата.
func historyMessages(history []domain.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return out
}

// withCurrentMessage добавляет текущее сообщение, если история его ещё не содержит.
func withCurrentMessage(msgs []openai.ChatCompletionMessage, history []domain.Turn, message string) []openai.ChatCompletionMessage {
	if message == "" {
		return msgs
	}
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser && history[n-1].Text == message {
		return msgs
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
}

// describeSchema описывает переменные для модели.
func describeSchema(schema []domain.VariableSchema, known map[string]any) string {
	var b strings.Builder
	for _, v := range schema {
		typ := v.Type
		if typ == "" {
			typ = "string"
		}
		fmt.Fprintf(&b, "- %s (%s", v.Name, typ)
		if v.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if v.Description != "" {
			fmt.Fprintf(&b, ": %s", v.Description)
		}
		if value, ok := known[v.Name]; ok {
			raw, _ := json.Marshal(value)
			fmt.Fprintf(&b, " [already known: %s]", raw)
		}
		b.WriteString("\n")
	}
	return b.String()
}

const extractionPrompt = `You extract structured values from a customer conversation.
Variables:
%s
Reply with a single JSON object: {"variables": {"<name>": <value>}, "declined": ["<name>"], "confidence": <0..1>}.
Omit variables the customer did not mention. Put a variable in "declined" when the customer says any value is fine.
Never invent values.`

// OpenAIExtractor извлекает переменные через chat completion с JSON ответом.
type OpenAIExtractor struct {
	chat chat
}

var _ steps.ExtractionService = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor создаёт OpenAIExtractor.
func NewOpenAIExtractor(client ChatClient, cfg OpenAIConfig) *OpenAIExtractor {
	return &OpenAIExtractor{chat: newChat("openai-extraction", client, cfg)}
}

// Extract возвращает сырой JSON ответа модели. Разбор выполняет steps.ParseExtraction.
func (e *OpenAIExtractor) Extract(ctx context.Context, req *steps.ExtractionRequest) (string, error) {
	system := fmt.Sprintf(extractionPrompt, describeSchema(req.Schema, req.Known))
	if req.Instructions != "" {
		system += "\n" + req.Instructions
	}

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}
	msgs = append(msgs, historyMessages(req.History)...)
	msgs = withCurrentMessage(msgs, req.History, req.Message)

	return e.chat.complete(ctx, msgs)
}

const assistantPrompt = `You are %s.
%s
Reply with a single JSON object: {"reply": "<message to the customer>", "variables": {"<name>": <value>}}.
Include in "variables" only values the customer stated explicitly.`

// OpenAIAssistant ведёт свободный диалог с персоной.
type OpenAIAssistant struct {
	chat chat
}

var _ steps.Assistant = (*OpenAIAssistant)(nil)

// NewOpenAIAssistant создаёт OpenAIAssistant.
func NewOpenAIAssistant(client ChatClient, cfg OpenAIConfig) *OpenAIAssistant {
	return &OpenAIAssistant{chat: newChat("openai-assistant", client, cfg)}
}

// Reply возвращает ответ ассистента.
func (a *OpenAIAssistant) Reply(ctx context.Context, req *steps.AssistantRequest) (*steps.AssistantReply, error) {
	persona := req.Persona
	if persona == "" {
		persona = "a helpful sales assistant"
	}

	var extra strings.Builder
	if req.Topic != "" {
		fmt.Fprintf(&extra, "Topic: %s\n", req.Topic)
	}
	if req.Prompt != "" {
		extra.WriteString(req.Prompt + "\n")
	}
	if len(req.Schema) > 0 {
		extra.WriteString("Useful variables:\n" + describeSchema(req.Schema, req.Known))
	}

	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(assistantPrompt, persona, strings.TrimSpace(extra.String())),
	}}
	msgs = append(msgs, historyMessages(req.History)...)
	msgs = withCurrentMessage(msgs, req.History, req.Message)

	content, err := a.chat.complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return parseAssistantReply(content), nil
}

// parseAssistantReply разбирает ответ ассистента. Текст вне JSON
// считается ответом целиком.
func parseAssistantReply(content string) *steps.AssistantReply {
	parsed, err := gabs.ParseJSON([]byte(content))
	if err != nil {
		return &steps.AssistantReply{Text: strings.TrimSpace(content)}
	}

	reply := &steps.AssistantReply{Text: pickString(parsed, "reply", "text", "message")}
	if vars, ok := parsed.Path("variables").Data().(map[string]any); ok && len(vars) > 0 {
		reply.Variables = make(map[string]any, len(vars))
		for k, v := range vars {
			if v != nil {
				reply.Variables[k] = domain.RestoreAny(v)
			}
		}
	}
	return reply
}
