// Package subprocess runs handler and trigger executables.
//
// Each run gets its payload on stdin, a wall-clock timeout, and bounded
// capture of stdout and stderr. On Unix the child is placed in its own
// process group and the whole group is killed when the timeout fires.
package subprocess
