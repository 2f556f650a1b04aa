package gateway

import (
	"context"

	"github.com/Lllllllleong/companyreportflow/internal/models"
)

// ReplyKind tags the outcome of decoding one model response.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyEmpty
	ReplyBlocked
	ReplyMalformed
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "ok"
	case ReplyEmpty:
		return "empty"
	case ReplyBlocked:
		return "blocked"
	case ReplyMalformed:
		return "malformed"
	}
	return "unknown"
}

// Reply is the decoded form of a provider response. Transports build it with
// a single decode function so callers never inspect response shapes directly.
type Reply struct {
	Kind   ReplyKind
	Text   string
	Reason string
}

func TextReply(text string) Reply        { return Reply{Kind: ReplyOK, Text: text} }
func EmptyReply(reason string) Reply     { return Reply{Kind: ReplyEmpty, Reason: reason} }
func BlockedReply(reason string) Reply   { return Reply{Kind: ReplyBlocked, Reason: reason} }
func MalformedReply(reason string) Reply { return Reply{Kind: ReplyMalformed, Reason: reason} }

// Request is the provider-neutral payload of one model call. Its JSON form is
// what the cache key is computed over.
type Request struct {
	System      string                `json:"system,omitempty"`
	Prompt      string                `json:"prompt"`
	Documents   []models.DocumentPart `json:"documents,omitempty"`
	Temperature *float32              `json:"temperature,omitempty"`
}

// Model is a handle on one generative model behind some provider.
type Model interface {
	Name() string
	Generate(ctx context.Context, req Request) (Reply, error)
}
