package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Service messages
// ---------------------------------------------------------------------------

// CompileRequest asks the service to compile source text.
type CompileRequest struct {
	Source string `cbor:"1,keyasint"`
	Mode   string `cbor:"2,keyasint,omitempty"`
}

// Diagnostic is the wire form of a compiler diagnostic.
type Diagnostic struct {
	Severity string `cbor:"1,keyasint"`
	Index    int    `cbor:"2,keyasint"`
	Word     string `cbor:"3,keyasint"`
	Message  string `cbor:"4,keyasint"`
}

// CompileResponse carries the compiled program and its listing.
type CompileResponse struct {
	Program     *Program     `cbor:"1,keyasint"`
	Listing     string       `cbor:"2,keyasint,omitempty"`
	Diagnostics []Diagnostic `cbor:"3,keyasint,omitempty"`
}

// ExecuteRequest runs either source text or a compiled program. Zero
// executor fields take the server's defaults.
type ExecuteRequest struct {
	Source     string    `cbor:"1,keyasint,omitempty"`
	Program    *Program  `cbor:"2,keyasint,omitempty"`
	Mode       string    `cbor:"3,keyasint,omitempty"`
	Lanes      int       `cbor:"4,keyasint,omitempty"`
	StackDepth int       `cbor:"5,keyasint,omitempty"`
	JumpDepth  *int      `cbor:"6,keyasint,omitempty"` // nil takes the default; 0 forbids calls
	Primary    int       `cbor:"7,keyasint,omitempty"`
	Buffers    []int     `cbor:"8,keyasint,omitempty"`
	Inputs     [][]int32 `cbor:"9,keyasint,omitempty"` // initial buffer contents; overrides Buffers
}

// ExecuteResponse carries the result of a run.
type ExecuteResponse struct {
	RunID  string  `cbor:"1,keyasint"`
	Result *Result `cbor:"2,keyasint"`
	Output string  `cbor:"3,keyasint,omitempty"`
}

// HistoryRequest lists recent runs.
type HistoryRequest struct {
	Limit int `cbor:"1,keyasint,omitempty"`
}

// Run is the wire form of one history entry.
type Run struct {
	ID        string `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint,omitempty"`
	Lanes     int    `cbor:"3,keyasint"`
	Mode      string `cbor:"4,keyasint"`
	Value     int32  `cbor:"5,keyasint"`
	Error     string `cbor:"6,keyasint,omitempty"`
	Elapsed   int64  `cbor:"7,keyasint"` // nanoseconds
	CreatedAt int64  `cbor:"8,keyasint"` // unix nanoseconds
}

// HistoryResponse lists runs, newest first.
type HistoryResponse struct {
	Runs []Run `cbor:"1,keyasint"`
}

// Codec is a Connect codec that encodes messages as canonical CBOR.
type Codec struct{}

// Name returns the codec name, which Connect uses in the content type.
func (Codec) Name() string { return "cbor" }

// Marshal encodes a message.
func (Codec) Marshal(msg any) ([]byte, error) {
	return cborEncMode.Marshal(msg)
}

// Unmarshal decodes a message.
func (Codec) Unmarshal(data []byte, msg any) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("wire: unmarshal %T: %w", msg, err)
	}
	return nil
}
