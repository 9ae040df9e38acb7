// Package device drives an RF Explorer analyzer over a serial port.
//
// Session owns the port: a reader goroutine decodes the reply stream into
// sweeps and configuration updates, while commands are written from the
// calling goroutine. Transport and device failures are normalized to a small
// set of sentinel errors so callers never match on driver-specific strings.
package device
