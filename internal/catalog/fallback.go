package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultProfiles is the built-in Bedrock fallback catalog, used when
// inference-profile discovery fails and no fallback file is configured.
// Cross-region profiles first, region-specific model IDs after.
var defaultProfiles = []string{
	"us.anthropic.claude-3-5-sonnet-20241022-v2:0",
	"us.anthropic.claude-3-5-haiku-20241022-v1:0",
	"us.anthropic.claude-3-opus-20240229-v1:0",
	"us.anthropic.claude-3-sonnet-20240229-v1:0",
	"us.anthropic.claude-3-haiku-20240307-v1:0",
	"us.meta.llama3-3-70b-instruct-v1:0",
	"us.meta.llama3-2-90b-instruct-v1:0",
	"us.meta.llama3-2-11b-instruct-v1:0",
	"us.mistral.mistral-large-2407-v1:0",
	"us.amazon.nova-pro-v1:0",
	"us.amazon.nova-lite-v1:0",
	"us.amazon.nova-micro-v1:0",
	"anthropic.claude-3-5-sonnet-20241022-v2:0",
	"anthropic.claude-3-5-haiku-20241022-v1:0",
	"meta.llama3-3-70b-instruct-v1:0",
	"amazon.titan-text-premier-v1:0",
}

// LoadFallback reads a fallback catalog from a YAML file: either a bare
// list of profile IDs or a document with a top-level "profiles" key.
func LoadFallback(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback catalog: %w", err)
	}

	var plain []string
	if err := yaml.Unmarshal(data, &plain); err == nil && len(plain) > 0 {
		return plain, nil
	}

	var doc struct {
		Profiles []string `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fallback catalog: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("fallback catalog %s is empty", path)
	}
	return doc.Profiles, nil
}
