package provider

import "strings"

// Family identifies the wire dialect a backend speaks. It is resolved once
// when a Descriptor is built and never re-sniffed per call.
type Family int

const (
	// FamilyChat is the generic OpenAI-compatible chat completions dialect,
	// the fallback for anything we cannot classify.
	FamilyChat Family = iota
	FamilyOpenRouter
	FamilyOllama
	FamilyBedrockClaude
	FamilyBedrockTitan
	FamilyBedrockNova
	FamilyBedrockLlama
	FamilyBedrockMistral
	// FamilyBedrock is a Bedrock backend whose model family we do not
	// recognize; requests use the messages format and parsing tries the
	// common response shapes in order.
	FamilyBedrock
)

func (f Family) String() string {
	switch f {
	case FamilyChat:
		return "chat"
	case FamilyOpenRouter:
		return "openrouter"
	case FamilyOllama:
		return "ollama"
	case FamilyBedrockClaude:
		return "bedrock-claude"
	case FamilyBedrockTitan:
		return "bedrock-titan"
	case FamilyBedrockNova:
		return "bedrock-nova"
	case FamilyBedrockLlama:
		return "bedrock-llama"
	case FamilyBedrockMistral:
		return "bedrock-mistral"
	case FamilyBedrock:
		return "bedrock"
	}
	return "unknown"
}

// Bedrock reports whether the family is addressed through the Bedrock
// runtime invoke endpoint.
func (f Family) Bedrock() bool {
	return f >= FamilyBedrockClaude && f <= FamilyBedrock
}

// Config is a caller-supplied backend description, as it arrives on the
// wire. Type defaults to "openai" when empty.
type Config struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Model    string `json:"model" yaml:"model"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key"`
	Type     string `json:"type,omitempty" yaml:"type"`
}

// Descriptor is an immutable, fully-resolved backend identity: family and
// region are computed once here so the invoker and engine never branch on
// raw config strings.
type Descriptor struct {
	Endpoint   string
	Model      string
	Credential string
	Family     Family
	Region     string // Bedrock only
}

// familyRule classifies a backend. Rules are evaluated top to bottom; the
// first match wins. Matching is case-insensitive substring sniffing on the
// explicit type, the endpoint URL and the model identifier, mirroring the
// vendor tokens each dialect is known by.
type familyRule struct {
	family Family
	match  func(typ, endpoint, model string) bool
}

func bedrockish(typ, endpoint string) bool {
	return typ == "bedrock" || strings.Contains(endpoint, "bedrock")
}

var familyRules = []familyRule{
	{FamilyBedrockClaude, func(typ, endpoint, model string) bool {
		return bedrockish(typ, endpoint) && (strings.Contains(model, "anthropic.claude") || strings.Contains(model, "claude"))
	}},
	{FamilyBedrockTitan, func(typ, endpoint, model string) bool {
		return bedrockish(typ, endpoint) && (strings.Contains(model, "amazon.titan") || strings.Contains(model, "titan"))
	}},
	{FamilyBedrockNova, func(typ, endpoint, model string) bool {
		return bedrockish(typ, endpoint) && (strings.Contains(model, "amazon.nova") || strings.Contains(model, "nova"))
	}},
	{FamilyBedrockLlama, func(typ, endpoint, model string) bool {
		return bedrockish(typ, endpoint) && (strings.Contains(model, "meta.llama") || strings.Contains(model, "llama"))
	}},
	{FamilyBedrockMistral, func(typ, endpoint, model string) bool {
		return bedrockish(typ, endpoint) && (strings.Contains(model, "mistral") || strings.Contains(model, "mixtral"))
	}},
	{FamilyBedrock, func(typ, endpoint, model string) bool {
		return bedrockish(typ, endpoint)
	}},
	{FamilyOllama, func(typ, endpoint, model string) bool {
		return typ == "ollama" || strings.Contains(endpoint, "ollama") || strings.Contains(endpoint, "11434")
	}},
	{FamilyOpenRouter, func(typ, endpoint, model string) bool {
		return strings.Contains(endpoint, "openrouter.ai")
	}},
}

// Resolve builds a Descriptor from a caller-supplied Config, classifying
// the backend family and extracting the Bedrock region up front.
func Resolve(cfg Config) Descriptor {
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	endpoint := strings.ToLower(cfg.Endpoint)
	model := strings.ToLower(cfg.Model)

	d := Descriptor{
		Endpoint:   cfg.Endpoint,
		Model:      cfg.Model,
		Credential: cfg.APIKey,
		Family:     FamilyChat,
	}

	for _, rule := range familyRules {
		if rule.match(typ, endpoint, model) {
			d.Family = rule.family
			break
		}
	}

	if d.Family.Bedrock() {
		d.Region = RegionFromEndpoint(cfg.Endpoint)
	}

	return d
}

// RegionFromEndpoint extracts an AWS region from a "region=" marker in the
// endpoint, defaulting to us-east-1.
func RegionFromEndpoint(endpoint string) string {
	const marker = "region="
	idx := strings.Index(endpoint, marker)
	if idx < 0 {
		return "us-east-1"
	}
	region := endpoint[idx+len(marker):]
	if amp := strings.IndexByte(region, '&'); amp >= 0 {
		region = region[:amp]
	}
	if region == "" {
		return "us-east-1"
	}
	return region
}

// CrossRegionProfile reports whether a model identifier is a cross-region
// inference profile (region-code prefix). Profiles use the same invoke
// path as direct model IDs; this only matters for logging.
func CrossRegionProfile(model string) bool {
	return strings.HasPrefix(model, "us.") || strings.HasPrefix(model, "eu.") || strings.HasPrefix(model, "ap.")
}
