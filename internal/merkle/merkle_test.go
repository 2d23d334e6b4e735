package merkle

import (
	"bytes"
	"testing"

	"github.com/wernerpool/stratum/internal/bitcoin"
)

func txid(b byte) []byte {
	h := make([]byte, 32)
	h[0] = b
	return h
}

func TestBuildBranch_Empty(t *testing.T) {
	if got := BuildBranch(nil); got != nil {
		t.Errorf("BuildBranch(nil) = %v, want nil", got)
	}
}

func TestBuildBranch_SingleTx(t *testing.T) {
	tx1 := txid(1)
	branch := BuildBranch([][]byte{tx1})
	if len(branch) != 1 {
		t.Fatalf("expected branch length 1, got %d", len(branch))
	}
	if !bytes.Equal(branch[0], tx1) {
		t.Errorf("branch[0] = %x, want %x", branch[0], tx1)
	}
}

func TestBuildBranchAndFoldRoot_MatchesDirectComputation(t *testing.T) {
	coinbase := txid(0xc0)
	tx1 := txid(1)
	tx2 := txid(2)
	tx3 := txid(3)

	branch := BuildBranch([][]byte{tx1, tx2, tx3})
	got := FoldRoot(coinbase, branch)

	want := Root([][]byte{coinbase, tx1, tx2, tx3})
	if !bytes.Equal(got, want) {
		t.Errorf("FoldRoot result = %x, want %x (direct Root computation)", got, want)
	}
}

func TestFoldRoot_NoBranch(t *testing.T) {
	coinbase := txid(0xc0)
	got := FoldRoot(coinbase, nil)
	if !bytes.Equal(got, coinbase) {
		t.Errorf("FoldRoot with no branch should return the coinbase hash unchanged")
	}
}

func TestRoot_Empty(t *testing.T) {
	got := Root(nil)
	want := make([]byte, 32)
	if !bytes.Equal(got, want) {
		t.Errorf("Root(nil) = %x, want 32 zero bytes", got)
	}
}

func TestRoot_Single(t *testing.T) {
	tx := txid(7)
	got := Root([][]byte{tx})
	if !bytes.Equal(got, tx) {
		t.Errorf("Root of a single hash should return it unchanged")
	}
}

func TestRoot_OddCountDuplicatesLast(t *testing.T) {
	tx1 := txid(1)
	tx2 := txid(2)
	tx3 := txid(3)

	got := Root([][]byte{tx1, tx2, tx3})
	want := Root([][]byte{tx1, tx2, tx3, tx3})
	if !bytes.Equal(got, want) {
		t.Errorf("odd-length Root should duplicate the last hash, got %x want %x", got, want)
	}
}

func TestWitnessCommitment(t *testing.T) {
	reserved := make([]byte, 32)
	wtxid1 := txid(0xaa)

	got := WitnessCommitment([][]byte{wtxid1}, reserved)

	full := [][]byte{make([]byte, 32), wtxid1}
	root := Root(full)
	want := bitcoin.DoubleSHA256(append(append([]byte{}, root...), reserved...))

	if !bytes.Equal(got, want) {
		t.Errorf("WitnessCommitment = %x, want %x", got, want)
	}
}
