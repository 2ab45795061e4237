package provider

import (
	"encoding/json"
	"log/slog"
	"strings"
)

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type titanResponse struct {
	Results []struct {
		OutputText string `json:"outputText"`
	} `json:"results"`
}

type novaResponse struct {
	Output struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	} `json:"output"`
}

type llamaResponse struct {
	Generation *string `json:"generation"`
}

type mistralResponse struct {
	Outputs []struct {
		Text string `json:"text"`
	} `json:"outputs"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type ollamaResponse struct {
	Response *string `json:"response"`
}

// ParseResponse extracts the generated text from a raw backend response
// following the family's documented field path. A body that does not match
// the expected shape degrades to the raw payload as a string so a partial
// signal stays visible for debugging; parsing never fails.
func ParseResponse(d Descriptor, raw []byte) string {
	switch d.Family {
	case FamilyBedrockClaude:
		var r claudeResponse
		if err := json.Unmarshal(raw, &r); err == nil && len(r.Content) > 0 {
			return r.Content[0].Text
		}
	case FamilyBedrockTitan:
		var r titanResponse
		if err := json.Unmarshal(raw, &r); err == nil && len(r.Results) > 0 {
			return r.Results[0].OutputText
		}
	case FamilyBedrockNova:
		var r novaResponse
		if err := json.Unmarshal(raw, &r); err == nil && len(r.Output.Message.Content) > 0 {
			return r.Output.Message.Content[0].Text
		}
	case FamilyBedrockLlama:
		var r llamaResponse
		if err := json.Unmarshal(raw, &r); err == nil && r.Generation != nil {
			return *r.Generation
		}
	case FamilyBedrockMistral:
		var r mistralResponse
		if err := json.Unmarshal(raw, &r); err == nil && len(r.Outputs) > 0 {
			return r.Outputs[0].Text
		}
	case FamilyBedrock:
		// Unknown Bedrock model family: try the common shapes in order.
		var c claudeResponse
		if err := json.Unmarshal(raw, &c); err == nil && len(c.Content) > 0 {
			return c.Content[0].Text
		}
		var n novaResponse
		if err := json.Unmarshal(raw, &n); err == nil && len(n.Output.Message.Content) > 0 {
			return n.Output.Message.Content[0].Text
		}
	case FamilyOllama:
		var r ollamaResponse
		if err := json.Unmarshal(raw, &r); err == nil && r.Response != nil {
			if strings.TrimSpace(*r.Response) == "" {
				slog.Warn("ollama returned empty response", "model", d.Model)
			}
			return *r.Response
		}
	default: // FamilyChat, FamilyOpenRouter
		var r chatResponse
		if err := json.Unmarshal(raw, &r); err == nil && len(r.Choices) > 0 {
			return r.Choices[0].Message.Content
		}
	}

	slog.Warn("unexpected response shape, returning raw payload",
		"family", d.Family.String(), "model", d.Model)
	return string(raw)
}
