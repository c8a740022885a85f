// Package watcher turns filesystem notifications under a set of root paths
// into a pull-based Stream of Events.
//
// Two facilities are supported: fsnotify in-process watches (the default)
// and the external fswatch binary. Both probe the facility before the
// stream is returned, watch roots recursively including directories created
// later, and follow symlinked directories. A Stream never ends on its own:
// Next returns ErrStreamClosed after Close, or a CrashedError when the
// facility dies underneath it.
package watcher
