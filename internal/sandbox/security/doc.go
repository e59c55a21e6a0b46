// Package security holds the permission grants supplied to a sandbox at
// spawn time.
//
// Permissions are decided and persisted by the host; the sandbox only
// carries a read-only snapshot. The snapshot serves two purposes: plugin
// code can introspect its own grants through the SDK facade, and the
// runtime uses it for advisory pre-checks so that an RPC call the host
// would certainly deny never leaves the sandbox.
package security
