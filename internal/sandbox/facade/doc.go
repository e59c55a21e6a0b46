// Package facade builds the SDK table plugin code receives from
// require("flashnote"). The table is frozen: plugin writes to it are
// ignored and its metatable is locked. Every method closes over the
// sandbox services (RPC client, command registry, storage, logging,
// permissions), so the facade is the only bridge between plugin code
// and the host.
package facade
