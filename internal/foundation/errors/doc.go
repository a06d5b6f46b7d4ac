// Package errors provides the classified errors used across frontbuild.
//
// A ClassifiedError carries a category (config, compile, resource, ...), a
// severity and structured context. Fatal errors stop a command before or
// instead of compiling; the CLI adapter maps categories to exit codes.
//
//	err := errors.WrapError(listenErr, errors.CategoryResource, "cannot bind dev server").
//		WithContext("addr", addr).
//		Fatal().
//		Build()
package errors
