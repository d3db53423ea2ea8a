// Package mysql persists plugin registry snapshots in MySQL. It owns the
// connection pool settings and applies the embedded schema migrations before
// the first write.
package mysql
