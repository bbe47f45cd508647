package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the byte length of every ledger identity.
const AddressLength = 20

// AddressPrefix defines the human-readable part of the bech32 address form.
type AddressPrefix string

const (
	// AccountPrefix marks externally owned accounts controlled by a key.
	AccountPrefix AddressPrefix = "usr"
	// ContractPrefix marks ledger-owned identities such as bond tokens,
	// custody accounts and redemption pools.
	ContractPrefix AddressPrefix = "ctr"
)

var errInvalidLength = errors.New("crypto: address must be 20 bytes long")

// Address represents a 20-byte identity with a human-readable prefix. Two
// addresses refer to the same identity when their bytes match; the prefix only
// affects rendering.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

// AddressFromBytes is the non-panicking variant of NewAddress used when
// decoding persisted or user supplied values.
func AddressFromBytes(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, errInvalidLength
	}
	return NewAddress(prefix, b), nil
}

// ContractAddress derives a deterministic contract identity from a label, e.g.
// the custody account of a module.
func ContractAddress(label string) Address {
	hash := crypto.Keccak256([]byte(label))
	return NewAddress(ContractPrefix, hash[len(hash)-AddressLength:])
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address carries no identity.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// Equal compares two identities by their raw bytes.
func (a Address) Equal(other Address) bool {
	return len(a.bytes) == AddressLength && bytes.Equal(a.bytes, other.bytes)
}

// MarshalText renders the bech32 form so addresses can be used in JSON bodies.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the bech32 form.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return AddressFromBytes(AddressPrefix(prefix), conv)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable secp256k1 signature over the digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// RecoverAddress returns the account identity that produced sig over digest.
func RecoverAddress(digest, sig []byte) (Address, error) {
	if len(sig) != crypto.SignatureLength {
		return Address{}, fmt.Errorf("crypto: signature must be %d bytes", crypto.SignatureLength)
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return Address{}, err
	}
	return NewAddress(AccountPrefix, crypto.PubkeyToAddress(*pub).Bytes()), nil
}
