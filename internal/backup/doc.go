// Package backup captures live world directories into timestamped ZIP
// archives and prunes old archives from the backup folder.
//
// Each world is backed up by a TaskRunner that walks a small state machine:
// a private scratch directory is allocated, the world is staged into it
// while the host's auto-persist is disabled, the scratch copy is archived
// and the scratch directory is removed. The Service fans tasks out over a
// Scheduler, announces the run through a Notifier and runs RetentionCleaner
// passes over the same folder.
package backup
