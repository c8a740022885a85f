// Package supervisor owns the single child process of a watch session.
//
// A Supervisor moves its child through Idle, Starting, Running, Stopping and
// Terminated. Start spawns the command on a pseudo-terminal so it behaves as
// it would when run by hand, Stop terminates the whole process group with a
// bounded escalation from SIGTERM to SIGKILL, and Restart composes the two
// so that two children never overlap. All child output is forwarded to the
// sink as it is produced.
package supervisor
