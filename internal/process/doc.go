// Package process spawns tool-provider executables and captures their output.
//
// A Runner launches exactly one child per call with a subcommand and an
// optional JSON argument, and is robust to children that fork background
// descendants which keep the output pipes open after the direct child has
// exited: it polls for the direct child's exit, grants a short drain window,
// and then snapshots whatever has been read so far rather than blocking on
// pipe EOF indefinitely.
package process
