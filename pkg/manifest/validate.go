package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/kbagent/internal/assets/schemas"
)

// SchemaID is the schema identifier for job requests.
const SchemaID = "kbagent/v1.0.0/job-request"

var (
	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("job request schema not found")

	// ErrValidationFailed is matched by every ValidationErrors value.
	ErrValidationFailed = errors.New("job request validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError is one problem with a job request field.
type ValidationError struct {
	// Field names the request field as written in the file, with list
	// positions in brackets (e.g., "source_ws_objects[1]"). Empty means the
	// request as a whole.
	Field string

	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every problem found in a request, ordered by field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "job request is invalid"
	case 1:
		return "job request: " + e[0].Error()
	}
	lines := make([]string, len(e))
	for i, v := range e {
		lines[i] = "  - " + v.Error()
	}
	return fmt.Sprintf("job request has %d problems:\n%s", len(e), strings.Join(lines, "\n"))
}

func (e ValidationErrors) Unwrap() error { return ErrValidationFailed }

// Fields returns the distinct offending field names.
func (e ValidationErrors) Fields() []string {
	var out []string
	for i, v := range e {
		if i == 0 || v.Field != e[i-1].Field {
			out = append(out, v.Field)
		}
	}
	return out
}

// fieldName turns a JSON pointer into a job request field name:
// "/params/0/message" becomes "params[0].message".
func fieldName(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "#")
	if pointer == "" || pointer == "/" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		seg = strings.NewReplacer("~1", "/", "~0", "~").Replace(seg)
		if _, err := strconv.Atoi(seg); err == nil && b.Len() > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// Validate checks a request built in code or decoded from a file. It runs the
// schema and then the cross-field rules the schema cannot express.
func Validate(r *JobRequest) error {
	if r == nil {
		return ValidationErrors{{Message: "request is empty"}}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode job request: %w", err)
	}
	errs, err := schemaErrors(data)
	if err != nil {
		return err
	}
	return collect(append(errs, checkRequest(r)...))
}

// ValidateRaw checks raw JSON against the job request schema. Unknown fields
// are rejected.
func ValidateRaw(jsonData []byte) error {
	errs, err := schemaErrors(jsonData)
	if err != nil {
		return err
	}
	return collect(errs)
}

func schemaErrors(data []byte) (ValidationErrors, error) {
	v, err := getValidator()
	if err != nil {
		return nil, err
	}
	diags, err := v.ValidateJSON(data)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Field: fieldName(d.Pointer), Message: d.Message})
		}
	}
	return errs, nil
}

// checkRequest applies rules that span fields.
func checkRequest(r *JobRequest) ValidationErrors {
	var errs ValidationErrors
	if r.AppID != "" {
		module, _, _ := strings.Cut(r.Method, ".")
		appModule, _, ok := strings.Cut(r.AppID, "/")
		switch {
		case !ok:
			errs = append(errs, ValidationError{Field: "app_id", Message: `must be "<Module>/<app>"`})
		case module != "" && appModule != module:
			errs = append(errs, ValidationError{
				Field:   "app_id",
				Message: fmt.Sprintf("module %q does not match method module %q", appModule, module),
			})
		}
	}
	seen := make(map[string]int, len(r.SourceWsObjects))
	for i, ref := range r.SourceWsObjects {
		if first, dup := seen[ref]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("source_ws_objects[%d]", i),
				Message: fmt.Sprintf("duplicates source_ws_objects[%d]", first),
			})
			continue
		}
		seen[ref] = i
	}
	return errs
}

// collect drops repeats and orders problems by field.
func collect(errs ValidationErrors) error {
	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	out := ValidationErrors{errs[0]}
	for _, e := range errs[1:] {
		if e != out[len(out)-1] {
			out = append(out, e)
		}
	}
	return out
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.JobRequestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded job-request schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.JobRequestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("compile job request schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
