package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VertexModel sends requests to a Gemini model on Vertex AI.
type VertexModel struct {
	model *genai.GenerativeModel
	name  string
}

func NewVertexModel(name string, model *genai.GenerativeModel) *VertexModel {
	return &VertexModel{model: model, name: name}
}

func (v *VertexModel) Name() string { return v.name }

func (v *VertexModel) Generate(ctx context.Context, req Request) (Reply, error) {
	parts := make([]genai.Part, 0, len(req.Documents)+1)
	for _, doc := range req.Documents {
		data, err := base64.StdEncoding.DecodeString(doc.Data)
		if err != nil {
			return Reply{}, fmt.Errorf("document %q is not valid base64: %w", doc.Name, err)
		}
		parts = append(parts, genai.Blob{MIMEType: doc.MIMEType, Data: data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	// The shared model is copied so per-request settings never race.
	model := *v.model
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature != nil {
		model.GenerationConfig.Temperature = genai.Ptr(*req.Temperature)
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return Reply{}, classifyVertexError(err)
	}
	return decodeVertex(resp), nil
}

func classifyVertexError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &BlockedError{Reason: "safety filter", Err: err}
	}
	switch code := status.Code(err); code {
	case codes.ResourceExhausted, codes.DeadlineExceeded, codes.Unavailable:
		return &TransientError{Code: code.String(), Err: err}
	case codes.PermissionDenied:
		return &BlockedError{Reason: "permission denied", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Code: "DeadlineExceeded", Err: err}
	}
	return fmt.Errorf("vertex generate content: %w", err)
}

// decodeVertex maps a Gemini response onto a Reply. Text parts of the first
// candidate are concatenated.
func decodeVertex(resp *genai.GenerateContentResponse) Reply {
	if resp == nil {
		return MalformedReply("nil response")
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != genai.BlockedReasonUnspecified {
		return BlockedReply("prompt blocked: " + pf.BlockReason.String())
	}
	if len(resp.Candidates) == 0 {
		return EmptyReply("no candidates")
	}
	cand := resp.Candidates[0]
	if cand == nil {
		return MalformedReply("nil candidate")
	}
	if cand.FinishReason == genai.FinishReasonSafety {
		return BlockedReply("finish reason " + cand.FinishReason.String())
	}
	if cand.Content == nil {
		return EmptyReply("candidate has no content")
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return EmptyReply("no text parts")
	}
	return TextReply(sb.String())
}
