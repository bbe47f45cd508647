package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bondledger/crypto"
)

var errMissingSignature = errors.New("envelope: signature required")

// Envelope is a signed request to apply one ledger operation. The caller
// identity is never transmitted; it is recovered from the signature.
type Envelope struct {
	Op        string          `json:"op"`
	Nonce     uint64          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`

	from *crypto.Address
}

// Digest is keccak256(op || 0x00 || bigEndian(nonce) || payload). The payload
// is hashed exactly as transmitted.
func (e *Envelope) Digest() []byte {
	op := strings.TrimSpace(e.Op)
	buf := make([]byte, 0, len(op)+1+8+len(e.Payload))
	buf = append(buf, op...)
	buf = append(buf, 0x00)
	buf = binary.BigEndian.AppendUint64(buf, e.Nonce)
	buf = append(buf, e.Payload...)
	return ethcrypto.Keccak256(buf)
}

// Sign attaches a recoverable signature produced by key.
func (e *Envelope) Sign(key *crypto.PrivateKey) error {
	sig, err := key.Sign(e.Digest())
	if err != nil {
		return err
	}
	e.Signature = "0x" + hex.EncodeToString(sig)
	e.from = nil
	return nil
}

// From recovers the signer identity.
func (e *Envelope) From() (crypto.Address, error) {
	if e.from != nil {
		return *e.from, nil
	}
	raw := strings.TrimPrefix(strings.TrimSpace(e.Signature), "0x")
	if raw == "" {
		return crypto.Address{}, errMissingSignature
	}
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.RecoverAddress(e.Digest(), sig)
	if err != nil {
		return crypto.Address{}, err
	}
	e.from = &addr
	return addr, nil
}
