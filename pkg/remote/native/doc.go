// Package native reads the memory of a live process on the local machine.
//
// Attaching does not stop the target: reads race with the target's own
// mutations and callers must treat everything they decode as a best-effort
// snapshot.
package native
