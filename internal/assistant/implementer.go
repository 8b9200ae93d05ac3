package assistant

import (
	"context"
	"text/template"
	"time"
)

// Implementer asks the assistant to apply a suggestion to the working tree.
// It reuses the Client process handling with a longer timeout.
type Implementer struct {
	client  *Client
	tmpl    *template.Template
	timeout time.Duration
}

// NewImplementer parses the template at templatePath, or the embedded
// default when templatePath is empty.
func NewImplementer(client *Client, templatePath string, timeout time.Duration) (*Implementer, error) {
	tmpl, err := loadTemplate("implement", templatePath, defaultImplementTmpl)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = client.timeout
	}
	return &Implementer{
		client:  client,
		tmpl:    tmpl,
		timeout: timeout,
	}, nil
}

// Prompt renders the implementation prompt for s.
func (i *Implementer) Prompt(s *Suggestion) (string, error) {
	return render(i.tmpl, s)
}

// Implement runs the assistant against the implementation prompt. The output
// is not parsed; the verifier decides whether the change is good.
func (i *Implementer) Implement(ctx context.Context, s *Suggestion) error {
	prompt, err := i.Prompt(s)
	if err != nil {
		return err
	}
	i.client.log.Info("implementing suggestion", "feature", s.Feature, "priority", s.Priority)
	_, err = i.client.RunWithTimeout(ctx, prompt, i.timeout)
	return err
}
