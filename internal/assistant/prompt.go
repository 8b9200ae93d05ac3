package assistant

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/thruflo/devloop/internal/project"
)

//go:embed templates/suggest.tmpl
var defaultSuggestTmpl string

//go:embed templates/implement.tmpl
var defaultImplementTmpl string

var funcs = template.FuncMap{"join": strings.Join}

// PromptData is the template data for the suggestion prompt.
type PromptData struct {
	Project    *project.State
	Guidelines []string
}

// PromptBuilder renders the suggestion prompt from a fresh project snapshot.
type PromptBuilder struct {
	dir        string
	tmpl       *template.Template
	guidelines []string
	analyze    project.Options
}

// NewPromptBuilder parses the template at templatePath, or the embedded
// default when templatePath is empty.
func NewPromptBuilder(dir, templatePath string, guidelines []string, analyze project.Options) (*PromptBuilder, error) {
	tmpl, err := loadTemplate("suggest", templatePath, defaultSuggestTmpl)
	if err != nil {
		return nil, err
	}
	return &PromptBuilder{
		dir:        dir,
		tmpl:       tmpl,
		guidelines: guidelines,
		analyze:    analyze,
	}, nil
}

// Build analyzes the project and renders the prompt.
func (b *PromptBuilder) Build(ctx context.Context) (string, error) {
	state, err := project.Analyze(ctx, b.dir, b.analyze)
	if err != nil {
		return "", fmt.Errorf("failed to analyze project: %w", err)
	}
	return render(b.tmpl, PromptData{Project: state, Guidelines: b.guidelines})
}

func loadTemplate(name, path, fallback string) (*template.Template, error) {
	text := fallback
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", name, err)
		}
		text = string(data)
	}

	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
