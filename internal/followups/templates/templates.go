// Package templates holds the default follow-up message templates and the
// token renderer used by the dispatcher.
package templates

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"crewcommand_backend/internal/followups/schedule"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Template is the content for one template key.
type Template struct {
	Key          string `yaml:"key"`
	SMSBody      string `yaml:"sms_body"`
	EmailSubject string `yaml:"email_subject"`
	EmailBody    string `yaml:"email_body"`
}

type document struct {
	Templates []Template `yaml:"templates"`
}

// Defaults parses the embedded default templates. Every step key of the
// schedule must be present.
func Defaults() ([]Template, error) {
	return Parse(defaultsYAML)
}

// Parse decodes a templates document and checks it covers every step.
func Parse(data []byte) ([]Template, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	seen := make(map[string]bool, len(doc.Templates))
	for i, t := range doc.Templates {
		key := strings.TrimSpace(t.Key)
		if key == "" {
			return nil, fmt.Errorf("templates[%d]: key is required", i)
		}
		if seen[key] {
			return nil, fmt.Errorf("templates[%d]: duplicate key %q", i, key)
		}
		seen[key] = true
		doc.Templates[i].Key = key
	}
	for _, step := range schedule.Steps {
		if key := schedule.TemplateKey(step); !seen[key] {
			return nil, fmt.Errorf("templates: missing key %q", key)
		}
	}
	return doc.Templates, nil
}

// Tokens are the values substituted into template bodies.
type Tokens struct {
	ClientName     string
	JobType        string
	ContractorName string
	BusinessName   string
	Amount         string
}

var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render replaces {token} placeholders. Unknown tokens render empty.
func Render(body string, tokens Tokens) string {
	values := map[string]string{
		"client_name":     tokens.ClientName,
		"job_type":        tokens.JobType,
		"contractor_name": tokens.ContractorName,
		"business_name":   tokens.BusinessName,
		"amount":          tokens.Amount,
	}
	return tokenPattern.ReplaceAllStringFunc(body, func(match string) string {
		return values[match[1:len(match)-1]]
	})
}
