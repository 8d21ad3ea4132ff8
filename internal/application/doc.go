// Package application wires the service together: result storage, the
// analyzer client, the calculator service and router, the root router and
// the HTTP server. It also owns startup and the shutdown hooks, which keeps
// the main package down to flag parsing and signal handling.
package application
