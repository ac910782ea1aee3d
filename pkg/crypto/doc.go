// Package crypto owns the node's Ed25519 identity keypair and the
// opaque keystore file it is persisted in. It also generates the
// out-of-band swarm-key / bootstrap-token material nodes must share
// before they can gossip with each other; the swarm uses the swarm
// key itself as its frame-encryption key.
//
// The keystore file is encrypted at rest with the same cipher family
// the swarm uses on the wire (NaCl secretbox) so there is one
// authenticated-encryption primitive in the codebase, not two: a
// passphrase is stretched with argon2id into a 32-byte key, which
// seals the private key with secretbox — nonce generated fresh and
// stored beside the ciphertext, verified on open.
package crypto
