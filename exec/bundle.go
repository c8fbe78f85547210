package exec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Bundle is the relay submission payload: the ordered raw transactions
// with a keccak-256 Merkle root attesting their integrity.
type Bundle struct {
	Transactions [][]byte
	MerkleRoot   common.Hash
	TargetBlock  uint64
	AvoidMempool bool
}

// NewBundle hashes each raw transaction into a leaf and builds the tree.
func NewBundle(rawTxs [][]byte, targetBlock uint64) (*Bundle, error) {
	if len(rawTxs) == 0 {
		return nil, fmt.Errorf("exec: empty bundle")
	}
	leaves := make([]common.Hash, len(rawTxs))
	for i, raw := range rawTxs {
		leaves[i] = crypto.Keccak256Hash(raw)
	}
	return &Bundle{
		Transactions: rawTxs,
		MerkleRoot:   MerkleRoot(leaves),
		TargetBlock:  targetBlock,
		AvoidMempool: true,
	}, nil
}

// MerkleRoot builds a binary keccak-256 tree over the leaves: pairs are
// concatenated left-to-right and hashed; an odd leaf at any level is
// duplicated.
func MerkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}
	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// MerkleProof returns the sibling hashes from leaf index up to the root.
func MerkleProof(leaves []common.Hash, index int) ([]common.Hash, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("exec: proof index %d out of range", index)
	}
	var proof []common.Hash
	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sibling := index ^ 1
		proof = append(proof, level[sibling])
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
		index /= 2
	}
	return proof, nil
}

// VerifyProof re-derives the root from a leaf and its proof.
func VerifyProof(root, leaf common.Hash, proof []common.Hash, index int) bool {
	h := leaf
	for _, sibling := range proof {
		if index%2 == 0 {
			h = hashPair(h, sibling)
		} else {
			h = hashPair(sibling, h)
		}
		index /= 2
	}
	return h == root
}

func hashPair(a, b common.Hash) common.Hash {
	return crypto.Keccak256Hash(a.Bytes(), b.Bytes())
}
