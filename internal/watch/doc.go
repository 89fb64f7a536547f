// Package watch turns watched directories into a stream of change
// notifications for the reconciliation engine.
//
// The Poller captures a full snapshot of every location on an interval and
// hands it to the sink as a resync. The Notifier uses OS push notifications
// (fsnotify) to report single additions and removals as they happen, holding
// back additions in import locations until the file has been quiet for the
// snapshotter's quiet period. Monitor picks between them by mode and always
// keeps a poller running as the safety net.
package watch
