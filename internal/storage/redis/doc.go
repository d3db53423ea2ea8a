// Package redis stores plugin registry snapshots in Redis: the newest
// snapshot under a single key and a capped history list next to it.
package redis
