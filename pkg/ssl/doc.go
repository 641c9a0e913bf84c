// Package ssl is a TLS session layer for already-connected sockets.
//
// It turns a plaintext socket descriptor into an encrypted bidirectional
// stream: a Service validates the configuration, loads the endpoint identity
// (PEM pair, PEM chain, or PKCS#12 bundle), binds an I/O bridge to the
// descriptor, drives the handshake to completion, and hands back a Session
// whose Send and Recv transparently encrypt and decrypt over the same socket.
//
// The TLS engine itself is a swappable backend behind the Engine interface;
// the default backend wraps crypto/tls. Each Session owns its engine handle
// exclusively and is driven by a single goroutine; the Configuration is
// read-only and safely shared across sessions.
package ssl
