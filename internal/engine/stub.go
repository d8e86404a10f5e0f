//go:build !llama

package engine

type stubEngine struct{}

// New returns the stub engine; build with -tags=llama for the real backend.
func New() Engine { return stubEngine{} }

func (stubEngine) Name() string { return "stub" }

// Init fails fast: there is no inference runtime in this build.
func (stubEngine) Init() error { return ErrNotBuilt }

func (stubEngine) Load(string, LoadOptions) (Model, error) { return nil, ErrNotBuilt }

func (stubEngine) Shutdown() {}
