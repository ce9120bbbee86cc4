// engine/registry.go
package engine

import (
	"sort"
	"strings"
	"sync"
)

// CompilerFactory builds a compiler for the given options
type CompilerFactory func(opts CompilerOptions) (Compiler, error)

const (
	CompilerAdHoc      = "adhoc"
	CompilerProcedures = "procedures"
)

var (
	compilersMu sync.RWMutex
	compilers   = make(map[string]CompilerFactory)
)

// RegisterCompiler makes a compiler strategy available by name. The first
// registration of a name wins.
func RegisterCompiler(name string, factory CompilerFactory) {
	if factory == nil {
		return
	}
	compilersMu.Lock()
	defer compilersMu.Unlock()

	key := strings.ToLower(name)
	if _, ok := compilers[key]; !ok {
		compilers[key] = factory
	}
}

// NewCompiler creates a registered compiler
func NewCompiler(name string, opts CompilerOptions) (Compiler, error) {
	compilersMu.RLock()
	factory, ok := compilers[strings.ToLower(name)]
	compilersMu.RUnlock()

	if !ok {
		return nil, &UnsupportedProcessMethodError{Method: name, Reason: "no compiler registered under this name"}
	}
	return factory(opts)
}

// CompilerFor picks the strategy an access policy allows: procedures when
// only stored procedures may run, ad-hoc SQL otherwise.
func CompilerFor(method AccessMethod, opts CompilerOptions) (Compiler, error) {
	if method == AccessStoredProcedures {
		return NewCompiler(CompilerProcedures, opts)
	}
	return NewCompiler(CompilerAdHoc, opts)
}

// RegisteredCompilers lists compiler names in sorted order
func RegisteredCompilers() []string {
	compilersMu.RLock()
	defer compilersMu.RUnlock()

	names := make([]string, 0, len(compilers))
	for name := range compilers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
