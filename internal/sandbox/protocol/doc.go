// Package protocol defines the wire messages exchanged between a plugin
// sandbox and the FlashNote host.
//
// All traffic is newline-delimited JSON. Every message carries a "type"
// field that identifies its shape. The sandbox emits log, rpc,
// register-command, unregister-command, ready, invoke-command-result and
// fatal messages; the host emits rpc-response, invoke-command and shutdown.
//
// Decoding is deliberately tolerant: the router peeks at the type field
// first and only then unmarshals into the concrete struct, so a malformed
// or unknown message never takes the sandbox down.
package protocol
