package topology

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Loader parses CUE topology documents and validates them against the
// built-in kind schemas. It implements engine.TopologySource.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

var _ engine.TopologySource = (*Loader)(nil)

// NewLoader creates a topology loader with the built-in schemas registered.
func NewLoader() *Loader {
	return &Loader{
		ctx:       cuecontext.New(),
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry used by this loader.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Evaluate parses the given sources, converts them into an engine
// topology, and validates the result. Sources may be CUE files or
// directories containing CUE packages.
func (l *Loader) Evaluate(ctx context.Context, sources []string) (*engine.Topology, error) {
	parsed, err := l.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("topology has %d validation error(s): %s", len(parsed.Errors), formatErrors(parsed.Errors))
	}

	topo, err := parsed.ToTopology()
	if err != nil {
		return nil, err
	}
	if err := l.Validate(ctx, topo); err != nil {
		return nil, err
	}
	return topo, nil
}

// Validate checks a topology for well-formedness: known kinds, unique
// resource IDs, properties conforming to the kind schemas, and
// dependency references that resolve within the topology.
func (l *Loader) Validate(ctx context.Context, topo *engine.Topology) error {
	if topo == nil {
		return fmt.Errorf("topology is nil")
	}

	seen := make(map[string]bool, len(topo.Resources))
	for i := range topo.Resources {
		node := &topo.Resources[i]

		if node.ID == "" {
			return fmt.Errorf("resource at position %d has no ID", i)
		}
		if seen[node.ID] {
			return fmt.Errorf("duplicate resource ID %q", node.ID)
		}
		seen[node.ID] = true

		if err := node.Kind.Validate(); err != nil {
			return fmt.Errorf("resource %s: %w", node.ID, err)
		}
		if err := l.schemas.ValidateProperties(ctx, node.Kind, node.Properties); err != nil {
			return fmt.Errorf("resource %s: %w", node.ID, err)
		}
	}

	for i := range topo.Resources {
		node := &topo.Resources[i]
		for _, dep := range node.DependsOn {
			if dep == node.ID {
				return fmt.Errorf("resource %s depends on itself", node.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("resource %s depends on unknown resource %q", node.ID, dep)
			}
		}
	}

	return nil
}

// Parse loads and parses topology sources without converting them.
// Parse and validation problems are collected into the returned
// ParsedTopology's Errors field; only I/O failures return an error.
func (l *Loader) Parse(ctx context.Context, sources []string) (*ParsedTopology, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no topology sources given")
	}

	var (
		merged      cue.Value
		sourceFiles []string
		parseErrors []ValidationError
		first       = true
	)

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to access source %s: %w", source, err)
		}

		var (
			val   cue.Value
			files []string
		)
		if info.IsDir() {
			val, files, err = l.loadDirectory(source)
		} else {
			val, err = l.loadFile(source)
			files = []string{source}
		}
		if err != nil {
			return nil, err
		}

		if verr := val.Err(); verr != nil {
			parseErrors = append(parseErrors, convertCUEErrors(verr)...)
			continue
		}

		if first {
			merged = val
			first = false
		} else {
			merged = merged.Unify(val)
		}
		sourceFiles = append(sourceFiles, files...)
	}

	if len(parseErrors) > 0 {
		return &ParsedTopology{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	// Unification can surface conflicts between sources.
	if err := merged.Err(); err != nil {
		return &ParsedTopology{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}

	return l.extractTopology(merged, sourceFiles)
}

// ParseInline parses a topology from an inline CUE string. Used mostly
// by tests and tooling.
func (l *Loader) ParseInline(ctx context.Context, content string) (*ParsedTopology, error) {
	val := l.ctx.CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		return &ParsedTopology{
			ParsedAt: time.Now(),
			Errors:   convertCUEErrors(err),
		}, nil
	}
	return l.extractTopology(val, nil)
}

// loadDirectory loads all CUE files in a directory as a single package.
func (l *Loader) loadDirectory(dir string) (cue.Value, []string, error) {
	insts := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(insts) == 0 {
		return cue.Value{}, nil, fmt.Errorf("no CUE instances found in %s", dir)
	}
	inst := insts[0]
	if inst.Err != nil {
		return cue.Value{}, nil, fmt.Errorf("failed to load %s: %w", dir, inst.Err)
	}

	val := l.ctx.BuildInstance(inst)

	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return cue.Value{}, nil, fmt.Errorf("failed to list CUE files in %s: %w", dir, err)
	}

	return val, files, nil
}

// loadFile compiles a single CUE file.
func (l *Loader) loadFile(path string) (cue.Value, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.ctx.CompileString(string(content), cue.Filename(path)), nil
}

// extractTopology pulls the workspace, variables, and resources out of
// an evaluated CUE value.
func (l *Loader) extractTopology(val cue.Value, sourceFiles []string) (*ParsedTopology, error) {
	parsed := &ParsedTopology{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	workspaceVal := val.LookupPath(cue.ParsePath("workspace"))
	if workspaceVal.Exists() {
		var workspace WorkspaceDecl
		if err := workspaceVal.Decode(&workspace); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "workspace",
				Message:  fmt.Sprintf("failed to decode workspace: %v", err),
				Severity: "error",
			})
		} else if err := l.validator.Struct(workspace); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "workspace",
				Message:  fmt.Sprintf("invalid workspace: %v", err),
				Severity: "error",
			})
		} else {
			parsed.Workspace = workspace
		}
	}

	variablesVal := val.LookupPath(cue.ParsePath("variables"))
	if variablesVal.Exists() {
		if err := variablesVal.Decode(&parsed.Variables); err != nil {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "variables",
				Message:  fmt.Sprintf("failed to decode variables: %v", err),
				Severity: "error",
			})
		}
	}

	resourcesVal := val.LookupPath(cue.ParsePath("resources"))
	if resourcesVal.Exists() {
		switch resourcesVal.Kind() {
		case cue.StructKind:
			// Struct form: field names are the resource IDs. CUE
			// iteration preserves source order, which becomes the
			// declaration order.
			iter, err := resourcesVal.Fields(cue.All())
			if err != nil {
				parsed.Errors = append(parsed.Errors, ValidationError{
					Path:     "resources",
					Message:  fmt.Sprintf("failed to iterate resources: %v", err),
					Severity: "error",
				})
				break
			}
			for iter.Next() {
				id := selectorName(iter.Selector())
				decl, err := l.extractResource(id, iter.Value())
				if err != nil {
					parsed.Errors = append(parsed.Errors, ValidationError{
						Path:     fmt.Sprintf("resources.%s", id),
						Message:  err.Error(),
						Severity: "error",
					})
					continue
				}
				parsed.Resources = append(parsed.Resources, decl)
			}
		case cue.ListKind:
			listIter, err := resourcesVal.List()
			if err != nil {
				parsed.Errors = append(parsed.Errors, ValidationError{
					Path:     "resources",
					Message:  fmt.Sprintf("failed to iterate resources: %v", err),
					Severity: "error",
				})
				break
			}
			idx := 0
			for listIter.Next() {
				decl, err := l.extractResource("", listIter.Value())
				if err != nil {
					parsed.Errors = append(parsed.Errors, ValidationError{
						Path:     fmt.Sprintf("resources[%d]", idx),
						Message:  err.Error(),
						Severity: "error",
					})
				} else {
					parsed.Resources = append(parsed.Resources, decl)
				}
				idx++
			}
		default:
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "resources",
				Message:  "resources must be a struct keyed by ID or a list",
				Severity: "error",
			})
		}
	}

	return parsed, nil
}

// extractResource decodes a single resource declaration. When the
// document uses the struct form, the field name supplies the ID.
func (l *Loader) extractResource(id string, val cue.Value) (ResourceDecl, error) {
	var decl ResourceDecl
	if err := val.Decode(&decl); err != nil {
		return decl, fmt.Errorf("failed to decode resource: %w", err)
	}
	if decl.ID == "" {
		decl.ID = id
	}
	if err := l.validator.Struct(decl); err != nil {
		return decl, fmt.Errorf("invalid resource: %w", err)
	}
	return decl, nil
}

// selectorName returns the field name without CUE quoting. IDs such as
// "net-prod" are quoted labels in CUE source.
func selectorName(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// convertCUEErrors converts CUE errors to validation errors with
// position information.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if positions := cueerrors.Positions(e); len(positions) > 0 {
			pos := positions[0]
			ve.File = pos.Filename()
			ve.Line = pos.Line()
			ve.Column = pos.Column()
		}
		out = append(out, ve)
	}
	return out
}

// formatErrors renders validation errors for a single-line error message.
func formatErrors(errs []ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch {
		case e.File != "":
			msgs = append(msgs, fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, strings.TrimSpace(e.Message)))
		case e.Path != "":
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Path, strings.TrimSpace(e.Message)))
		default:
			msgs = append(msgs, strings.TrimSpace(e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}
