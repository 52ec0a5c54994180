package codegen

import (
	"errors"

	"github.com/xplshn/gyul/pkg/config"
)

// ErrDependencyManagerUnset is returned by dependency operations when
// the context was created without a manager.
var ErrDependencyManagerUnset = errors.New("the dependency manager is unset")

// Lowerable is implemented by every IR entity that can emit itself into
// the module. Lowering runs in three phases over the whole contract:
// Prepare declares module-level prerequisites, Declare adds the entity's
// own declarations, and IntoLLVM emits the bodies. Each phase completes
// for every entity before the next one starts.
type Lowerable interface {
	Prepare(ctx *Context) error
	Declare(ctx *Context) error
	IntoLLVM(ctx *Context) error
}

// Dependency manages the other contracts a module refers to. Compile
// builds a dependency on behalf of its parent and returns the bytecode
// hash; ResolveLibrary maps a deployed library path to its address.
type Dependency interface {
	Compile(name, parent string, levelMiddle, levelBack config.OptimizationLevel, dumpFlags []config.DumpFlag) (string, error)
	ResolveLibrary(path string) (string, error)
}
