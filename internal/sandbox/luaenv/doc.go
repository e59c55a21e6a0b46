// Package luaenv provides the restricted Lua execution environment that
// hosts plugin code.
//
// An Env is a gopher-lua state opened with only the safe standard
// libraries (base, table, string, math) and with the file/code loading
// primitives removed. Module resolution goes through the Loader, which
// maps an import name to the SDK facade, rejects host built-ins, and
// confines everything else to the plugin's own directory.
//
// gopher-lua states are not goroutine-safe. All access to an Env after
// construction must go through its Executor, which serializes operations
// onto a single goroutine; plugin code therefore runs on one logical
// thread with cooperative suspension.
package luaenv
