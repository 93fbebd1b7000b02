package server

import (
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/semaphore"

	"github.com/chazu/flux/compiler"
	"github.com/chazu/flux/store"
	"github.com/chazu/flux/vm"
	"github.com/chazu/flux/wire"
)

var log = commonlog.GetLogger("flux.server")

// FluxServer serves the Flux service over Connect with the CBOR codec.
type FluxServer struct {
	service *Service
	mux     *http.ServeMux
}

// ServerOption configures a FluxServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	vmConfig  vm.Config
	compile   compiler.Options
	history   *store.Store
	laneLimit int64
}

// WithVMConfig sets the executor defaults applied to requests that leave
// executor fields unset.
func WithVMConfig(cfg vm.Config) ServerOption {
	return func(c *serverConfig) { c.vmConfig = cfg }
}

// WithCompilerOptions sets the compiler defaults.
func WithCompilerOptions(opts compiler.Options) ServerOption {
	return func(c *serverConfig) { c.compile = opts }
}

// WithHistory records every execution in the given store and enables the
// History procedure. Without this, history is disabled.
func WithHistory(s *store.Store) ServerOption {
	return func(c *serverConfig) { c.history = s }
}

// WithLaneLimit bounds the total number of lanes running at once across all
// requests. A single request may not ask for more.
func WithLaneLimit(n int) ServerOption {
	return func(c *serverConfig) { c.laneLimit = int64(n) }
}

// DefaultLaneLimit is the lane limit when none is configured.
const DefaultLaneLimit = 256

// New creates a FluxServer.
func New(opts ...ServerOption) *FluxServer {
	cfg := &serverConfig{
		vmConfig:  vm.DefaultConfig(),
		compile:   compiler.DefaultOptions(),
		laneLimit: DefaultLaneLimit,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	svc := &Service{
		vmConfig:  cfg.vmConfig,
		compile:   cfg.compile,
		history:   cfg.history,
		lanes:     semaphore.NewWeighted(cfg.laneLimit),
		laneLimit: cfg.laneLimit,
	}
	s := &FluxServer{service: svc, mux: http.NewServeMux()}

	codec := connect.WithCodec(wire.Codec{})
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, svc.Compile, codec))
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, svc.Execute, codec))
	s.mux.Handle(HistoryProcedure, connect.NewUnaryHandler(HistoryProcedure, svc.History, codec))

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *FluxServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *FluxServer) ListenAndServe(addr string) error {
	fmt.Printf("Flux server listening on %s\n", addr)
	fmt.Printf("  Connect (CBOR): http://%s%s\n", addr, ExecuteProcedure)
	log.Infof("listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}
