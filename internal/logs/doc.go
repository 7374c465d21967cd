// Package logs reads the watcher's log file directly.
//
// "lifestory watch logs --file" uses it when the watcher status API is not
// reachable, for example after the watcher has exited. A File remembers its
// byte offset so follow mode only prints lines appended since the last read,
// and it starts over when the file is truncated or replaced.
package logs
