// Package repository produces the local checkout a convergence run reads
// its role and module declarations from, and the property map used to
// render templates. Git syncs a clone through the git CLI; Local serves a
// directory that something else keeps up to date.
package repository
