// Package curve wraps the secp256k1 group used by the authentication
// protocol: scalars modulo the group order n, points on the curve, and their
// fixed-width encodings.
//
// Decoding is strict. Scalars must be exactly 32 bytes and strictly less than
// n; they are never truncated or silently reduced. Points must be valid SEC1
// encodings (33-byte compressed or 65-byte uncompressed) of a point on the
// curve. Arithmetic results may be the point at infinity, but no encoding
// decodes to it.
package curve
