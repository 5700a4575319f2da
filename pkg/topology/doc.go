// Package topology loads workspace topologies from CUE sources. It
// parses and unifies one or more files or directories, validates the
// declared resources against built-in kind schemas, and converts the
// result into the engine's topology form with declaration order
// preserved.
package topology
