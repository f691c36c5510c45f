package document

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/issai/internal/entity"
)

//go:embed schema.cue
var schemaCUE string

// ValidateSchema checks JSON document bytes against the #Document CUE
// definition. Uses the CUE SDK's Go API directly, with a fresh context per
// call because cue.Context is not safe for concurrent use.
//
// Returns a structural error listing every violation.
func ValidateSchema(data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("document.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Document"))

	// JSON is valid CUE, so the document compiles as a plain value
	doc := ctx.CompileBytes(data, cue.Filename("document.json"))
	if err := doc.Err(); err != nil {
		return schemaError(err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// schemaError converts CUE errors into a structural error.
func schemaError(err error) error {
	return &entity.Error{
		Code:    entity.ErrCodeStructural,
		Message: "document does not match schema: " + cueerrors.Details(err, nil),
		Err:     err,
	}
}
