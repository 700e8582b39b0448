// Package plan compiles a role from a repository checkout into an ordered
// list of modules, each bound to the variant that deploys it.
//
// Checkout layout:
//
//	roles/<role>.yaml                     modules: [name, ...]
//	modules/<name>/module.yaml            module declaration
//	modules/<name>/files/<source>         templated file sources
//	modules/<name>/environments/<file>    container env files
//
// Compilation never touches the host. A duplicate target path, a missing
// source or an unresolved token anywhere in the role fails the whole
// compile with a types.ConfigurationError.
package plan
