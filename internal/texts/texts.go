package texts

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog holds user-facing strings keyed by message id, button labels and the
// enumerations offered in selection menus.
type Catalog struct {
	Messages map[string]string `yaml:"messages"`
	Buttons  map[string]string `yaml:"buttons"`
	Weekdays []string          `yaml:"weekdays"`
	Subjects []string          `yaml:"subjects"`
}

// Load parses a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("texts: parse catalog: %w", err)
	}
	if len(c.Messages) == 0 || len(c.Buttons) == 0 {
		return nil, fmt.Errorf("texts: catalog has no messages or buttons")
	}
	return &c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Load(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Msg renders the message with {name} placeholders replaced by the given
// key/value pairs. Unknown ids render as the id itself.
func (c *Catalog) Msg(id string, kv ...string) string {
	tmpl, ok := c.Messages[id]
	if !ok {
		return id
	}
	if len(kv) < 2 {
		return tmpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Button returns the label of a button id.
func (c *Catalog) Button(id string) string {
	if label, ok := c.Buttons[id]; ok {
		return label
	}
	return id
}

// IsButton reports whether text is the label of the button id.
func (c *Catalog) IsButton(id, text string) bool {
	label, ok := c.Buttons[id]
	return ok && strings.TrimSpace(text) == label
}

// Weekday reports whether s is one of the configured weekdays.
func (c *Catalog) Weekday(s string) bool {
	return contains(c.Weekdays, s)
}

// Subject reports whether s is one of the configured subjects.
func (c *Catalog) Subject(s string) bool {
	return contains(c.Subjects, s)
}

func contains(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
