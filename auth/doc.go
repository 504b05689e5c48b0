// Package auth implements password authentication by a Schnorr proof of
// knowledge over secp256k1.
//
// A password and a per-account salt are stretched into a private scalar x
// (see KDF). Registration stores only the public key P = x·G and the salt.
// Login is three messages: the client commits to R = k·G for a fresh nonce
// k, the server issues a uniformly random challenge e, and the client
// answers s = k + e·x mod n. The server accepts when s·G == R + e·P.
//
// The server must fix e before it sees R. SessionManager enforces this by
// splitting login into BeginLogin, IssueChallenge and VerifyProof.
//
// The protocol itself places no bound on how many proofs a caller may
// submit. Deployments must pair it with attempt throttling and bounded
// session lifetimes, as the api package does.
package auth
