package provider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingCredential is returned when a Bedrock call is attempted without
// an API key. Bedrock never accepts anonymous requests, so this fails fast
// instead of burning the retry budget.
var ErrMissingCredential = errors.New("bedrock api key is required")

const (
	anthropicVersion = "bedrock-2023-05-31"
	maxTokens        = 4096
	llamaMaxGenLen   = 2048
	temperature      = 0.7
)

// Request is one fully-formed outbound backend call.
type Request struct {
	URL     string
	Body    []byte
	Headers map[string]string
}

// BuildRequest translates (descriptor, prompt) into the wire format the
// backend family expects. Pure function, no I/O.
func BuildRequest(d Descriptor, prompt string) (Request, error) {
	if d.Family.Bedrock() && d.Credential == "" {
		return Request{}, ErrMissingCredential
	}

	var payload map[string]any
	switch d.Family {
	case FamilyBedrockClaude:
		payload = map[string]any{
			"anthropic_version": anthropicVersion,
			"max_tokens":        maxTokens,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
	case FamilyBedrockTitan:
		payload = map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
			},
		}
	case FamilyBedrockNova:
		payload = map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": []map[string]any{{"text": prompt}}},
			},
			"inferenceConfig": map[string]any{
				"maxTokens":   maxTokens,
				"temperature": temperature,
			},
		}
	case FamilyBedrockLlama:
		payload = map[string]any{
			"prompt":      prompt,
			"max_gen_len": llamaMaxGenLen,
			"temperature": temperature,
		}
	case FamilyBedrockMistral:
		payload = map[string]any{
			"prompt":      prompt,
			"max_tokens":  maxTokens,
			"temperature": temperature,
		}
	case FamilyBedrock:
		payload = map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
			"max_tokens": maxTokens,
		}
	case FamilyOllama:
		payload = map[string]any{
			"model":  d.Model,
			"prompt": prompt,
			"stream": false,
		}
	default: // FamilyChat, FamilyOpenRouter
		payload = map[string]any{
			"model": d.Model,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal request body: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if d.Credential != "" {
		headers["Authorization"] = "Bearer " + d.Credential
	}

	url := d.Endpoint
	if d.Family.Bedrock() {
		url = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke", d.Region, d.Model)
	}

	return Request{URL: url, Body: body, Headers: headers}, nil
}
