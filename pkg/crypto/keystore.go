package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/cuemby/actyx/pkg/types"
)

const (
	keystoreFileMode = 0o600
	nonceSize        = 24
	argon2Time       = 1
	argon2Memory     = 64 * 1024 // KiB
	argon2Threads    = 4
	argon2KeyLen     = 32
)

// Identity holds a node's long-lived Ed25519 keypair. NodeId is the
// process-global identifier derived from the public key: the hash of
// the public key is the NodeId.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NodeID computes the NodeId for this identity: the SHA-256 hash of
// the public key, hex-encoded.
func (id Identity) NodeID() types.NodeId {
	sum := sha256.Sum256(id.Public)
	return types.NodeId(fmt.Sprintf("%x", sum))
}

type keystoreFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Box   []byte `json:"box"`
}

// Keystore guards the on-disk encrypted key material with a single
// lock: updates are rare.
type Keystore struct {
	mu   sync.Mutex
	path string
}

// Open returns a handle to the keystore file at dataDir/keystore. It
// does not create or load anything yet; call Load or Create.
func Open(dataDir string) *Keystore {
	return &Keystore{path: filepath.Join(dataDir, "keystore")}
}

// Exists reports whether a keystore file is already present.
func (k *Keystore) Exists() bool {
	_, err := os.Stat(k.path)
	return err == nil
}

// Create generates a fresh Ed25519 keypair and persists it encrypted
// under passphrase. This is the "NodeId created once at first
// startup" path.
func (k *Keystore) Create(passphrase string) (Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	id := Identity{Public: pub, Private: priv}

	if err := k.persistLocked(id, passphrase); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Load decrypts and returns the persisted identity.
func (k *Keystore) Load(passphrase string) (Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data, err := os.ReadFile(k.path)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read keystore: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return Identity{}, fmt.Errorf("failed to parse keystore: %w", err)
	}

	key := deriveKey(passphrase, kf.Salt)
	var nonce [nonceSize]byte
	copy(nonce[:], kf.Nonce)

	plain, ok := secretbox.Open(nil, kf.Box, &nonce, &key)
	if !ok {
		return Identity{}, fmt.Errorf("failed to decrypt keystore: wrong passphrase or corrupted file")
	}

	if len(plain) != ed25519.PrivateKeySize {
		return Identity{}, fmt.Errorf("keystore: unexpected key material length %d", len(plain))
	}
	priv := ed25519.PrivateKey(plain)
	pub := priv.Public().(ed25519.PublicKey)
	return Identity{Public: pub, Private: priv}, nil
}

func (k *Keystore) persistLocked(id Identity, passphrase string) error {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt)

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	box := secretbox.Seal(nil, id.Private, &nonce, &key)

	kf := keystoreFile{Salt: salt, Nonce: nonce[:], Box: box}
	data, err := json.Marshal(kf)
	if err != nil {
		return fmt.Errorf("failed to encode keystore: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return os.WriteFile(k.path, data, keystoreFileMode)
}

func deriveKey(passphrase string, salt []byte) [32]byte {
	derived := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	var key [32]byte
	copy(key[:], derived)
	return key
}
