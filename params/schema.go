package params

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/timzifer/parkgate/remote"
)

// ValidationError reports operator input that cannot be submitted.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid parameters: " + e.Reason
	}
	return fmt.Sprintf("invalid value %q for %s: %s", e.Value, e.Field, e.Reason)
}

// Schema holds optional CUE constraints for parameter values, e.g.
//
//	ULTRASONIC_THRESHOLD?: int & >=2 & <=400
type Schema struct {
	ctx    *cue.Context
	value  cue.Value
	source string
}

// NewSchema compiles CUE constraints. An empty source yields a nil schema
// that accepts everything.
func NewSchema(src string) (*Schema, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename("parameters.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return &Schema{ctx: ctx, value: value, source: src}, nil
}

// Validate checks set against the constraints.
func (s *Schema) Validate(set remote.ParameterSet) error {
	if s == nil {
		return nil
	}
	data := s.ctx.Encode(map[string]int(set))
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	unified := s.value.Unify(data)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	verr := &ValidationError{Reason: strings.TrimSpace(cueerrors.Details(err, nil))}
	if list := cueerrors.Errors(err); len(list) > 0 {
		first := list[0]
		if path := first.Path(); len(path) > 0 {
			verr.Field = path[0]
			if v, ok := set[verr.Field]; ok {
				verr.Value = strconv.Itoa(v)
			}
		}
		format, args := first.Msg()
		verr.Reason = fmt.Sprintf(format, args...)
	}
	return verr
}

// Source returns the CUE text the schema was compiled from.
func (s *Schema) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}
