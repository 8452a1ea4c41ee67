package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minio/sha256-simd"
)

// GenesisHash is the previous_hash of the first block.
var GenesisHash = strings.Repeat("0", 64)

// Block is one immutable entry of the audit chain.
type Block struct {
	ID        uint   `gorm:"primarykey" json:"-"`
	Seq       int64  `gorm:"column:seq;uniqueIndex;not null" json:"sequence_number"`
	Timestamp string `gorm:"not null" json:"timestamp"`
	ContentID string `gorm:"index;not null" json:"content_id"`
	// canonical JSON text
	Payload  string `gorm:"type:text;not null" json:"-"`
	PrevHash string `gorm:"not null" json:"previous_hash"`
	Hash     string `gorm:"uniqueIndex;not null" json:"hash"`
}

func (Block) TableName() string {
	return "audit_chain"
}

func (b Block) MarshalJSON() ([]byte, error) {
	type plain Block
	return json.Marshal(struct {
		plain
		Payload json.RawMessage `json:"payload"`
	}{
		plain:   plain(b),
		Payload: json.RawMessage(b.Payload),
	})
}

// field order here is the canonical order, and must not change
type canonicalBlock struct {
	SequenceNumber int64           `json:"sequence_number"`
	Timestamp      string          `json:"timestamp"`
	ContentID      string          `json:"content_id"`
	Payload        json.RawMessage `json:"payload"`
	PreviousHash   string          `json:"previous_hash"`
}

// Canonicalize serializes v as JSON with object keys sorted at every level and numbers kept verbatim.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalizeRaw(raw)
}

func canonicalizeRaw(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ComputeHash returns the hex SHA-256 digest over the canonical serialization of every field except the hash.
func ComputeHash(b *Block) (string, error) {
	payload, err := canonicalizeRaw([]byte(b.Payload))
	if err != nil {
		return "", fmt.Errorf("payload of block %d is not valid JSON: %w", b.Seq, err)
	}
	buf, err := json.Marshal(canonicalBlock{
		SequenceNumber: b.Seq,
		Timestamp:      b.Timestamp,
		ContentID:      b.ContentID,
		Payload:        payload,
		PreviousHash:   b.PrevHash,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Decode unmarshals the block payload into v.
func (b *Block) Decode(v any) error {
	return json.Unmarshal([]byte(b.Payload), v)
}
