package notifx

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	"sync"
	texttemplate "text/template"
)

// Template is the source of one email: subject and text are plain text,
// HTML is escaped as html/template.
type Template struct {
	Subject string
	HTML    string
	Text    string
}

// Rendered is the output of a Template.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type compiled struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// TemplateRegistry stores and renders named email templates.
type TemplateRegistry struct {
	templates map[string]compiled
	mu        sync.RWMutex
}

// NewTemplateRegistry creates a new template registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]compiled),
	}
}

// Register parses and stores a template by name.
func (r *TemplateRegistry) Register(name string, tmpl Template) error {
	var (
		c   compiled
		err error
	)
	if c.subject, err = texttemplate.New(name + ".subject").Parse(tmpl.Subject); err != nil {
		return notifxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name).WithDetail("part", "subject")
	}
	if c.html, err = htmltemplate.New(name + ".html").Parse(tmpl.HTML); err != nil {
		return notifxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name).WithDetail("part", "html")
	}
	if tmpl.Text != "" {
		if c.text, err = texttemplate.New(name + ".text").Parse(tmpl.Text); err != nil {
			return notifxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name).WithDetail("part", "text")
		}
	}

	r.mu.Lock()
	r.templates[name] = c
	r.mu.Unlock()

	return nil
}

// Has reports whether a template is registered under name.
func (r *TemplateRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// Render executes a named template with the given data.
func (r *TemplateRegistry) Render(name string, data any) (Rendered, error) {
	r.mu.RLock()
	c, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return Rendered{}, notifxErrors.New(ErrTemplateNotFound).WithDetail("template", name)
	}

	var out Rendered
	var buf bytes.Buffer

	if err := c.subject.Execute(&buf, data); err != nil {
		return Rendered{}, notifxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
	}
	out.Subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := c.html.Execute(&buf, data); err != nil {
		return Rendered{}, notifxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
	}
	out.HTML = buf.String()

	if c.text != nil {
		buf.Reset()
		if err := c.text.Execute(&buf, data); err != nil {
			return Rendered{}, notifxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
		}
		out.Text = buf.String()
	}

	return out, nil
}
