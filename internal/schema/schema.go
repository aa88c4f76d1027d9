// Package schema validates envelope records against the embedded CUE
// definition. The journal trusts its own appends; bytes arriving from
// another node do not get that trust, so every imported line passes
// through here before it is merged.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed envelope.cue
var envelopeCUE string

var (
	compileOnce sync.Once
	envelopeDef cue.Value
	compileErr  error
)

// envelopeValue compiles the embedded schema once per process.
func envelopeValue() (cue.Value, error) {
	compileOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(envelopeCUE, cue.Filename("envelope.cue"))
		if err := v.Err(); err != nil {
			compileErr = fmt.Errorf("compile envelope schema: %w", err)
			return
		}
		envelopeDef = v.LookupPath(cue.ParsePath("#Envelope"))
		if err := envelopeDef.Err(); err != nil {
			compileErr = fmt.Errorf("lookup #Envelope: %w", err)
		}
	})
	return envelopeDef, compileErr
}

// ValidateLine checks one raw JSONL envelope record against the v1
// schema. The input is the exact line bytes, not a decoded struct, so
// unknown fields and type mismatches are caught before any Go-side
// parsing shapes the data.
func ValidateLine(line []byte) error {
	def, err := envelopeValue()
	if err != nil {
		return err
	}
	if err := cuejson.Validate(line, def); err != nil {
		return fmt.Errorf("envelope schema violation: %w", err)
	}
	return nil
}
