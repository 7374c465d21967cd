// Package interview holds the canonical Interview and Session shapes shared by
// the REST client, the upload tracker, and the watcher.
package interview
