// Package client bootstraps local persistence for the uploader.
//
// InitDatabase opens (or creates) an SQLite database using the pure-Go
// modernc driver and applies the embedded goose migrations, which create the
// key/value metadata table. The upload queue and the stored bearer token are
// kept in that table through the metadata repository.
package client
