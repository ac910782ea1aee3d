package swarm

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/types"
)

// kind discriminates the payload carried by an envelope.
type kind uint8

const (
	kindHello kind = iota + 1
	kindHeartbeat
	kindWantList
	kindBlockResponse
)

// hello is the first frame exchanged on a new connection, in either
// direction, so each side learns the other's NodeId.
type hello struct {
	NodeID     types.NodeId
	ListenAddr string
}

// envelope is the wire shape: a discriminator plus the CBOR-encoded
// payload for that kind.
type envelope struct {
	Kind    kind
	Payload []byte
}

const maxFrameSize = 16 * 1024 * 1024

// sendFrame writes one frame to p's current connection, serialized
// against any other frame this swarm is sending to the same peer —
// a net.Conn write is not atomic, so two unsynchronized writers would
// interleave their bytes and corrupt the stream's length-prefix
// framing for everyone.
func (p *Peer) sendFrame(key crypto.SwarmKey, k kind, payload interface{}) error {
	conn := p.Connection()
	if conn == nil {
		return fmt.Errorf("peer %s is not connected", p.NodeID)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return writeFrame(conn, key, k, payload)
}

// writeFrame encrypts and writes one envelope to conn, length-prefixed
// so the reader knows exactly how many ciphertext bytes to pull off
// the stream.
func writeFrame(conn net.Conn, key crypto.SwarmKey, k kind, payload interface{}) error {
	body, err := cbor.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode frame payload: %w", err)
	}
	env, err := cbor.Marshal(envelope{Kind: k, Payload: body})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate frame nonce: %w", err)
	}
	keyArr := [32]byte(key)
	sealed := secretbox.Seal(nonce[:], env, &nonce, &keyArr)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := conn.Write(sealed); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}

// readFrame blocks until one full envelope has arrived on conn,
// decrypts it, and returns its kind and decoded payload bytes.
func readFrame(conn net.Conn, key crypto.SwarmKey) (kind, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	sealed := make([]byte, size)
	if _, err := io.ReadFull(conn, sealed); err != nil {
		return 0, nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	if len(sealed) < 24 {
		return 0, nil, fmt.Errorf("frame shorter than nonce")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	keyArr := [32]byte(key)
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &keyArr)
	if !ok {
		return 0, nil, fmt.Errorf("failed to decrypt frame: wrong swarm key or corrupted stream")
	}

	var env envelope
	if err := cbor.Unmarshal(plain, &env); err != nil {
		return 0, nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env.Kind, env.Payload, nil
}

func decodePayload(data []byte, out interface{}) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode frame payload: %w", err)
	}
	return nil
}
