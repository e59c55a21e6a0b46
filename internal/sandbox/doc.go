// Package sandbox assembles the plugin runtime: the construction
// payload, the manifest, the lifecycle state machine, the message
// router and the bootstrap sequence that builds a restricted Lua
// environment around a plugin's entry script.
//
// One Instance exists per sandbox process. The host talks to it only
// through newline-delimited JSON messages; plugin code talks to the
// host only through the facade built during bootstrap.
package sandbox
