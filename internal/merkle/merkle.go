// Package merkle computes a shard's Merkle root over its file tree
// (spec §4.7), generalizing the teacher's SHA-256 audit-ledger tree
// (internal/ledger/merkle.go) to BLAKE3 byte-slice leaves keyed by file
// path, built once over a finished file list rather than appended to
// incrementally.
package merkle

import (
	"runtime"
	"sort"
	"sync"

	"lukechampine.com/blake3"
)

// leafWorkers bounds the fan-out used to hash leaves in Build: a fixed
// worker count, never one goroutine per file, per spec §5's resource
// bounds.
const leafWorkers = 4

// Node is one node of the tree; only leaves carry a Path.
type Node struct {
	Left  *Node
	Right *Node
	Hash  [32]byte
	Path  string
}

// Sibling is one step of an inclusion proof.
type Sibling struct {
	Hash   [32]byte
	IsLeft bool
}

// Proof is the sibling path from a leaf to the root.
type Proof struct {
	LeafHash [32]byte
	Siblings []Sibling
	Root     [32]byte
}

// File is one leaf input: a shard-relative path and its raw bytes.
type File struct {
	Path  string
	Bytes []byte
}

// LeafHash computes BLAKE3(path_bytes || 0x00 || file_bytes), the leaf
// domain-separation rule from spec §4.7.
func LeafHash(path string, data []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(path))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// hashLeaves computes one Node per file using a small fixed-size worker
// pool rather than one goroutine per file: each worker claims a
// contiguous index range and writes directly into its slot of a
// pre-allocated slice, so the result is reduced in file order regardless
// of worker completion order.
func hashLeaves(files []File) []*Node {
	leaves := make([]*Node, len(files))
	if len(leaves) == 0 {
		return leaves
	}

	workers := leafWorkers
	if n := runtime.NumCPU(); n < workers {
		workers = n
	}
	if workers > len(files) {
		workers = len(files)
	}
	if workers < 1 {
		workers = 1
	}

	chunk := (len(files) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(files) {
			break
		}
		end := start + chunk
		if end > len(files) {
			end = len(files)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				leaves[i] = &Node{Hash: LeafHash(files[i].Path, files[i].Bytes), Path: files[i].Path}
			}
		}(start, end)
	}
	wg.Wait()
	return leaves
}

func nodeHash(left, right *Node) [32]byte {
	h := blake3.New(32, nil)
	h.Write(left.Hash[:])
	h.Write(right.Hash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Tree is a finished, immutable Merkle tree over a sorted file list.
type Tree struct {
	leaves []*Node
	root   *Node
}

// Build sorts files by path in lexicographic byte order, computes a leaf
// per file, and folds them with BLAKE3 in a balanced binary tree
// (odd trailing leaf duplicated at its level), per spec §4.7.
func Build(files []File) *Tree {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	leaves := hashLeaves(sorted)

	t := &Tree{leaves: leaves}
	if len(leaves) == 0 {
		return t
	}
	if len(leaves) == 1 {
		t.root = leaves[0]
		return t
	}
	t.root = fold(leaves)
	return t
}

func fold(nodes []*Node) *Node {
	for len(nodes) > 1 {
		next := make([]*Node, 0, (len(nodes)+1)/2)
		for i := 0; i < len(nodes); i += 2 {
			left := nodes[i]
			right := left
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			next = append(next, &Node{Left: left, Right: right, Hash: nodeHash(left, right)})
		}
		nodes = next
	}
	return nodes[0]
}

// Root returns the tree's root hash, or the zero value for an empty tree.
func (t *Tree) Root() [32]byte {
	if t.root == nil {
		return [32]byte{}
	}
	return t.root.Hash
}

// Proof builds an inclusion proof for the file at path, or false if no
// such leaf exists.
func (t *Tree) Proof(path string) (Proof, bool) {
	idx := -1
	for i, l := range t.leaves {
		if l.Path == path {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Proof{}, false
	}

	p := Proof{LeafHash: t.leaves[idx].Hash, Root: t.Root()}
	nodes := make([]*Node, len(t.leaves))
	copy(nodes, t.leaves)

	for len(nodes) > 1 {
		next := make([]*Node, 0, (len(nodes)+1)/2)
		newIdx := idx / 2
		for i := 0; i < len(nodes); i += 2 {
			left := nodes[i]
			right := left
			if i+1 < len(nodes) {
				right = nodes[i+1]
			}
			if i == idx {
				p.Siblings = append(p.Siblings, Sibling{Hash: right.Hash, IsLeft: false})
			} else if i+1 == idx {
				p.Siblings = append(p.Siblings, Sibling{Hash: left.Hash, IsLeft: true})
			}
			next = append(next, &Node{Left: left, Right: right, Hash: nodeHash(left, right)})
		}
		nodes = next
		idx = newIdx
	}
	return p, true
}

// VerifyProof recomputes the root from a leaf hash and its sibling path
// and compares it against expectedRoot.
func VerifyProof(proof Proof, expectedRoot [32]byte) bool {
	current := proof.LeafHash
	for _, sib := range proof.Siblings {
		h := blake3.New(32, nil)
		if sib.IsLeft {
			h.Write(sib.Hash[:])
			h.Write(current[:])
		} else {
			h.Write(current[:])
			h.Write(sib.Hash[:])
		}
		copy(current[:], h.Sum(nil))
	}
	return current == expectedRoot
}
