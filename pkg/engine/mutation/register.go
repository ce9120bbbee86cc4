package mutation

import "github.com/chameleon-db/rowsync/pkg/engine"

// Auto-register the compilers on package import
// This happens automatically when mutation package is imported anywhere
func init() {
	engine.RegisterCompiler(engine.CompilerAdHoc, func(opts engine.CompilerOptions) (engine.Compiler, error) {
		if opts.Dialect == nil {
			return nil, &engine.MissingConfigurationError{Setting: "driver", Hint: "ad-hoc SQL needs a dialect"}
		}
		return NewAdHocCompiler(opts.Dialect), nil
	})
	engine.RegisterCompiler(engine.CompilerProcedures, func(opts engine.CompilerOptions) (engine.Compiler, error) {
		return NewProcedureCompiler(opts.ProcedurePrefix, opts.Dialect), nil
	})
}
