package gemini

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PartDTO is one piece of content.
type PartDTO struct {
	Text string `json:"text"`
}

// ContentDTO is a turn of the conversation.
type ContentDTO struct {
	Role  string    `json:"role,omitempty"`
	Parts []PartDTO `json:"parts"`
}

// GenerationConfigDTO holds the sampling settings.
type GenerationConfigDTO struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// GenerateContentRequestDTO is the body of models/{model}:generateContent.
type GenerateContentRequestDTO struct {
	Contents         []ContentDTO        `json:"contents"`
	GenerationConfig GenerationConfigDTO `json:"generationConfig"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// CandidateDTO is one generated answer.
type CandidateDTO struct {
	Content      ContentDTO `json:"content"`
	FinishReason string     `json:"finishReason"`
}

// PromptFeedbackDTO reports a prompt that was blocked.
type PromptFeedbackDTO struct {
	BlockReason string `json:"blockReason"`
}

// UsageMetadataDTO reports token usage.
type UsageMetadataDTO struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GenerateContentResponseDTO is the response of generateContent.
type GenerateContentResponseDTO struct {
	Candidates     []CandidateDTO     `json:"candidates"`
	PromptFeedback *PromptFeedbackDTO `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadataDTO  `json:"usageMetadata,omitempty"`
}

// Text concatenates the parts of the first candidate.
func (r *GenerateContentResponseDTO) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ErrorDetailDTO is one entry of error.details.
type ErrorDetailDTO struct {
	Type   string `json:"@type"`
	Reason string `json:"reason,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// ErrorBodyDTO is the error envelope returned by the API.
type ErrorBodyDTO struct {
	Error struct {
		Code    int              `json:"code"`
		Message string           `json:"message"`
		Status  string           `json:"status"`
		Details []ErrorDetailDTO `json:"details"`
	} `json:"error"`
}

// APIError is a structured error returned by the endpoint.
type APIError struct {
	// HTTPStatus is the response status code.
	HTTPStatus int

	// Status is the canonical status name, e.g. RESOURCE_EXHAUSTED.
	Status string

	// Reason is the ErrorInfo reason, e.g. API_KEY_INVALID.
	Reason string

	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Status != "" && e.Message != "":
		return fmt.Sprintf("gemini api error %d %s: %s", e.HTTPStatus, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("gemini api error %d: %s", e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("gemini api error %d", e.HTTPStatus)
}
