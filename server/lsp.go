package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/flux/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "flux-lsp"

var lspLog = commonlog.GetLogger("flux.lsp")

// LspServer provides editor features for Flux source files.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*analysis // URI → analysis of the full document

	opts    compiler.Options
	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. opts bounds the inlining check run for
// diagnostics.
func NewLSP(opts compiler.Options) *LspServer {
	s := &LspServer{
		docs:    make(map[string]*analysis),
		opts:    opts,
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Flux LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// --- Document synchronization ---

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	a := analyze(text, s.opts)
	lspLog.Debugf("%s: %d diagnostics", uri, len(a.diagnostics))

	s.mu.Lock()
	s.docs[string(uri)] = a
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: a.diagnostics,
	})
}

func (s *LspServer) document(uri protocol.DocumentUri) *analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	a := s.document(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	return a.complete(extractPrefix(a.text, params.Position)), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	a := s.document(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	return a.hover(params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	a := s.document(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	r, ok := a.definition(params.Position)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: params.TextDocument.URI, Range: r}}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	a := s.document(params.TextDocument.URI)
	if a == nil {
		return nil, nil
	}
	var locations []protocol.Location
	for _, r := range a.references(params.Position) {
		locations = append(locations, protocol.Location{URI: params.TextDocument.URI, Range: r})
	}
	return locations, nil
}

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

// analysis is everything the editor features need from one document.
type analysis struct {
	text        string
	tokens      []compiler.Token
	dict        *compiler.Dictionary
	diagnostics []protocol.Diagnostic
}

func analyze(text string, opts compiler.Options) *analysis {
	a := &analysis{text: text, tokens: compiler.Scan(text)}

	words := make([]compiler.Word, len(a.tokens))
	for i, t := range a.tokens {
		words[i] = t.Word
	}
	a.dict = compiler.Resolve(words)
	a.diagnostics = []protocol.Diagnostic{}

	for _, d := range a.dict.Diagnostics {
		a.addDiagnostic(d.Index, lspSeverity(d.Severity), d.Message)
	}

	headers := make(map[int]bool)
	for _, def := range a.dict.Definitions() {
		headers[def.Header+1] = true
	}
	for i, t := range a.tokens {
		if len(t.Text) > 2 {
			a.addDiagnostic(i, protocol.DiagnosticSeverityHint,
				fmt.Sprintf("only %q is significant; the rest of %q is ignored", t.Word, t.Text))
		}
		if !headers[i] && a.dict.Class(t.Word) == compiler.ClassUndefined {
			a.addDiagnostic(i, protocol.DiagnosticSeverityWarning,
				fmt.Sprintf("undefined word %s is ignored", t.Word))
		}
	}

	if _, err := compiler.Inline(words, a.dict, opts); err != nil {
		var cyc *compiler.CyclicDefinitionError
		index := 0
		if errors.As(err, &cyc) {
			index = cyc.Index
		}
		a.addDiagnostic(index, protocol.DiagnosticSeverityError, err.Error())
	}
	return a
}

func (a *analysis) addDiagnostic(index int, severity protocol.DiagnosticSeverity, msg string) {
	var r protocol.Range
	if index >= 0 && index < len(a.tokens) {
		r = tokenRange(a.tokens[index])
	}
	source := lspName
	a.diagnostics = append(a.diagnostics, protocol.Diagnostic{
		Range:    r,
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	})
}

func lspSeverity(s compiler.Severity) protocol.DiagnosticSeverity {
	switch s {
	case compiler.SeverityError:
		return protocol.DiagnosticSeverityError
	case compiler.SeverityWarning:
		return protocol.DiagnosticSeverityWarning
	default:
		return protocol.DiagnosticSeverityHint
	}
}

func tokenRange(t compiler.Token) protocol.Range {
	end := t.End()
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(t.Pos.Line - 1), Character: protocol.UInteger(t.Pos.Column - 1)},
		End:   protocol.Position{Line: protocol.UInteger(end.Line - 1), Character: protocol.UInteger(end.Column - 1)},
	}
}

// tokenAt returns the index of the token under an LSP position, or -1.
func (a *analysis) tokenAt(pos protocol.Position) int {
	return compiler.TokenAt(a.tokens, int(pos.Line)+1, int(pos.Character)+1)
}

func (a *analysis) hover(pos protocol.Position) *protocol.Hover {
	i := a.tokenAt(pos)
	if i < 0 {
		return nil
	}
	w := a.tokens[i].Word

	var b strings.Builder
	switch a.dict.Class(w) {
	case compiler.ClassBuiltin:
		if info, ok := w.Info(); ok {
			fmt.Fprintf(&b, "**%s** `%s`\n\n%s", w, info.Effect, info.Doc)
		} else {
			v, _ := w.Numeric()
			fmt.Fprintf(&b, "**%s** `( -- n )`\n\npush 0x%02X (%d)", w, v, v)
		}
	case compiler.ClassUser:
		def, _ := a.dict.Definition(w)
		fmt.Fprintf(&b, "**%s** user word\n\n`: %s %s ;`", w, w, a.body(def))
	default:
		fmt.Fprintf(&b, "**%s** undefined; ignored when compiled", w)
	}

	r := tokenRange(a.tokens[i])
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
		Range: &r,
	}
}

// body renders the words of a definition body.
func (a *analysis) body(def compiler.Definition) string {
	parts := make([]string, 0, def.End-def.Body)
	for i := def.Body; i < def.End && i < len(a.tokens); i++ {
		parts = append(parts, a.tokens[i].Word.String())
	}
	return strings.Join(parts, " ")
}

func (a *analysis) definition(pos protocol.Position) (protocol.Range, bool) {
	i := a.tokenAt(pos)
	if i < 0 {
		return protocol.Range{}, false
	}
	def, ok := a.dict.Definition(a.tokens[i].Word)
	if !ok || def.Header+1 >= len(a.tokens) {
		return protocol.Range{}, false
	}
	return tokenRange(a.tokens[def.Header+1]), true
}

func (a *analysis) references(pos protocol.Position) []protocol.Range {
	i := a.tokenAt(pos)
	if i < 0 {
		return nil
	}
	w := a.tokens[i].Word
	var ranges []protocol.Range
	for _, t := range a.tokens {
		if t.Word == w {
			ranges = append(ranges, tokenRange(t))
		}
	}
	return ranges
}

func (a *analysis) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	// Operators
	for _, info := range compiler.Operators {
		label := info.Word.String()
		if !strings.HasPrefix(label, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindOperator
		detail := info.Effect
		doc := info.Doc
		items = append(items, protocol.CompletionItem{
			Label:         label,
			Kind:          &kind,
			Detail:        &detail,
			Documentation: doc,
			InsertText:    &label,
		})
	}

	// User words
	var names []string
	for _, def := range a.dict.Definitions() {
		if name := def.Name.String(); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		kind := protocol.CompletionItemKindFunction
		detail := "user word"
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	return items
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to the previous separator
	start := col
	for start > 0 && line[start-1] > ' ' {
		start--
	}
	return line[start:col]
}

func boolPtr(b bool) *bool {
	return &b
}
