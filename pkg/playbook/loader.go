package playbook

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Loader parses YAML task lists.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a task list loader.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// Load reads and parses a task list file.
func (l *Loader) Load(path string) (*engine.TaskList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task list %s: %w", path, err)
	}
	list, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("task list %s: %w", path, err)
	}
	return list, nil
}

// Parse parses a task list from YAML bytes. Unknown fields are
// rejected so typos do not silently drop settings.
func (l *Loader) Parse(data []byte) (*engine.TaskList, error) {
	var decl TaskListDecl
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		return nil, fmt.Errorf("failed to parse task list YAML: %w", err)
	}

	if err := l.validator.Struct(decl); err != nil {
		return nil, fmt.Errorf("invalid task list: %w", err)
	}

	list, err := decl.ToTaskList()
	if err != nil {
		return nil, err
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return list, nil
}
