package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/bamverify/internal/assets/schemas"
	"github.com/3leaps/bamverify/pkg/remote"
	"github.com/3leaps/bamverify/pkg/tool"
)

// SchemaID is the schema identifier for job manifests.
const SchemaID = "bamverify/v1.0.0/job-manifest"

var (
	ErrSchemaNotFound   = errors.New("manifest schema not found")
	ErrValidationFailed = errors.New("manifest validation failed")
)

// ValidationError is one problem with a manifest, located by JSON pointer
// ("/inputs/bam") when the problem belongs to a field.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every problem found; errors.Is matches
// ErrValidationFailed.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}
	lines := make([]string, len(e))
	for i, err := range e {
		lines[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("manifest validation failed with %d errors:\n%s", len(e), strings.Join(lines, "\n"))
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a decoded manifest: schema first, then the references.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	return checkReferences(m)
}

// ValidateRaw checks a JSON document against the manifest schema. Pass the
// original document: unknown fields are only visible before decoding.
func ValidateRaw(jsonData []byte) error {
	v, err := compiledSchema()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// checkReferences reports every URI that does not resolve and every empty
// tool flag, so one run of the loader shows all of them.
func checkReferences(m *Manifest) error {
	var errs ValidationErrors
	for _, f := range []struct {
		path, uri string
	}{
		{"/inputs/vcf", m.Inputs.VCF},
		{"/inputs/bam", m.Inputs.BAM},
		{"/inputs/bai", m.Inputs.BAI},
		{"/results", m.Results},
	} {
		if f.path == "/results" && strings.HasSuffix(strings.TrimSpace(f.uri), "/") {
			errs = append(errs, ValidationError{Path: f.path, Message: "must be a file prefix such as s3://bucket/run/NA12878, not a directory"})
			continue
		}
		if _, err := remote.Parse(f.uri); err != nil {
			errs = append(errs, ValidationError{Path: f.path, Message: err.Error()})
		}
	}
	for i, arg := range m.CmdArgs {
		if len(tool.RenderFlag(arg)) == 0 {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("/cmd_args/%d", i), Message: "tool flag is empty"})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

var (
	schemaOnce sync.Once
	schemaVal  *schema.Validator
	schemaErr  error
)

func compiledSchema() (*schema.Validator, error) {
	schemaOnce.Do(func() {
		if len(schemasassets.JobManifestSchema) == 0 {
			schemaErr = fmt.Errorf("%w: embedded job-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		schemaVal, schemaErr = schema.NewValidator(schemasassets.JobManifestSchema)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile manifest schema: %w", schemaErr)
		}
	})
	return schemaVal, schemaErr
}
