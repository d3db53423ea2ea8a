// Package api exposes the plugin registry over a read-only REST interface:
// the registered and loaded plugins, the merged GraphQL schema and the most
// recent registry snapshot. Prometheus metrics are served next to it.
package api
