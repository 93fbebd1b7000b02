package manifest

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schema constrains a manifest after defaults are applied.
const schema = `
#Manifest: {
	program: {
		name:  string
		entry: string & !=""
	}
	compiler: {
		mode:        "inline" | "link"
		workers:     int & >=1 & <=256
		"max-depth": int & >=1
		"max-trace": int & >=1
	}
	executor: {
		lanes:          int & >=1 & <=4096
		"stack-depth":  int & >=1
		"jump-depth":   int & >=0
		"primary-lane": int & >=0 & <lanes
		buffers: [...int & >=0]
	}
	history: {
		path: string
	}
}
`

// Validate checks the manifest against the schema.
func (m *Manifest) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schema).LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}

	v := def.Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		msg := strings.TrimSpace(cueerrors.Details(err, nil))
		return fmt.Errorf("invalid manifest: %s", msg)
	}
	return nil
}
