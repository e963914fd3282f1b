// Package hostnet defines the HostNetwork port: a transactional view over
// global host state (routing table, DNS resolver directory) so teardown can
// be idempotent and partial (§5, §9).
package hostnet

// Transaction snapshots prior state before a mutation and reverses it on
// Rollback. Rollback must be safe to call even if Apply was never called or
// only partially succeeded (§7 Host configuration error).
type Transaction interface {
	Apply() error
	Rollback() error
}
