package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIModel sends requests to any OpenAI-compatible chat completions
// endpoint. Documents are inlined into the user message; binary formats the
// endpoint cannot read are listed by name only.
type OpenAIModel struct {
	client openai.Client
	name   string
}

func NewOpenAIModel(name, apiKey, baseURL string) *OpenAIModel {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIModel{client: openai.NewClient(opts...), name: name}
}

func (o *OpenAIModel) Name() string { return o.name }

func (o *OpenAIModel) Generate(ctx context.Context, req Request) (Reply, error) {
	user, err := inlineDocuments(req)
	if err != nil {
		return Reply{}, err
	}
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.name),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Reply{}, classifyOpenAIError(err)
	}
	return decodeOpenAI(resp), nil
}

func inlineDocuments(req Request) (string, error) {
	if len(req.Documents) == 0 {
		return req.Prompt, nil
	}
	var sb strings.Builder
	for _, doc := range req.Documents {
		if !strings.HasPrefix(doc.MIMEType, "text/") {
			fmt.Fprintf(&sb, "[Document %s (%s) omitted: binary content]\n\n", doc.Name, doc.MIMEType)
			continue
		}
		data, err := base64.StdEncoding.DecodeString(doc.Data)
		if err != nil {
			return "", fmt.Errorf("document %q is not valid base64: %w", doc.Name, err)
		}
		fmt.Fprintf(&sb, "<document name=%q>\n%s\n</document>\n\n", doc.Name, data)
	}
	sb.WriteString(req.Prompt)
	return sb.String(), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &TransientError{Code: http.StatusText(apiErr.StatusCode), Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &BlockedError{Reason: "permission denied", Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Code: "DeadlineExceeded", Err: err}
	}
	return fmt.Errorf("chat completion: %w", err)
}

func decodeOpenAI(resp *openai.ChatCompletion) Reply {
	if resp == nil {
		return MalformedReply("nil response")
	}
	if len(resp.Choices) == 0 {
		return EmptyReply("no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return BlockedReply("content filter")
	}
	if choice.Message.Refusal != "" {
		return BlockedReply("refusal: " + choice.Message.Refusal)
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return EmptyReply("empty message")
	}
	return TextReply(choice.Message.Content)
}
