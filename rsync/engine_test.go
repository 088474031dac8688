package rsync

import (
	"bytes"
	"math/rand"
	"testing"
)

// deltaBytes is a test helper that computes an uncompressed, unthrottled
// delta for in-memory data.
func deltaBytes(t *testing.T, source []byte, signatures []BlockSignature, blockSize int) []Instruction {
	t.Helper()
	sender, err := NewSender(blockSize, AlgorithmMD5, nil, nil)
	if err != nil {
		t.Fatal("unable to create sender:", err)
	}
	delta, err := sender.DeltaBytes(source, signatures)
	if err != nil {
		t.Fatal("unable to compute delta:", err)
	}
	return delta
}

// patchBytes is a test helper that applies a delta to an in-memory base.
func patchBytes(t *testing.T, base []byte, delta []Instruction, blockSize int) []byte {
	t.Helper()
	var output bytes.Buffer
	for _, instruction := range delta {
		if instruction.IsLiteral() {
			output.Write(instruction.Data)
			continue
		}
		start := int(instruction.Index) * blockSize
		end := start + blockSize
		if start > len(base) {
			t.Fatalf("delta references block %d beyond base", instruction.Index)
		}
		if end > len(base) {
			end = len(base)
		}
		output.Write(base[start:end])
	}
	return output.Bytes()
}

func signatureOf(t *testing.T, base []byte, blockSize int) []BlockSignature {
	t.Helper()
	generator, err := NewGenerator(blockSize, AlgorithmMD5)
	if err != nil {
		t.Fatal("unable to create generator:", err)
	}
	return generator.BytesSignature(base)
}

func TestSignatureEmptyBase(t *testing.T) {
	if signatures := signatureOf(t, nil, 10); len(signatures) != 0 {
		t.Error("empty base produced signatures")
	}
}

func TestSignatureIndicesAndShortLastBlock(t *testing.T) {
	base := []byte("0123456789ABCDEFGHIJabc")
	signatures := signatureOf(t, base, 10)
	if len(signatures) != 3 {
		t.Fatalf("expected 3 signatures, got %d", len(signatures))
	}
	for i, signature := range signatures {
		if signature.Index != uint32(i) {
			t.Errorf("signature %d has index %d", i, signature.Index)
		}
		if len(signature.Strong) != 16 {
			t.Errorf("signature %d has %d-byte digest", i, len(signature.Strong))
		}
	}
}

func TestDeltaIdenticalFiles(t *testing.T) {
	// An identical source must come back as matches only.
	base := []byte("Hello, this is a test file for rsync algorithm!")
	signatures := signatureOf(t, base, 10)
	delta := deltaBytes(t, base, signatures, 10)
	for _, instruction := range delta {
		if instruction.IsLiteral() {
			t.Error("delta for identical content contains literal data")
		}
	}
	expected := (len(base) + 9) / 10
	if len(delta) != expected {
		t.Errorf("expected %d block instructions, got %d", expected, len(delta))
	}
	if !bytes.Equal(patchBytes(t, base, delta, 10), base) {
		t.Error("reconstruction did not match source")
	}
}

func TestDeltaMiddleMutation(t *testing.T) {
	base := []byte("AAAAAABBBBBBCCCCCC")
	source := []byte("AAAAAADDDDDDCCCCCC")
	signatures := signatureOf(t, base, 6)
	delta := deltaBytes(t, source, signatures, 6)

	if len(delta) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(delta))
	}
	if delta[0].IsLiteral() || delta[0].Index != 0 {
		t.Error("first instruction should reference block 0")
	}
	if !delta[1].IsLiteral() || !bytes.Equal(delta[1].Data, []byte("DDDDDD")) {
		t.Error("second instruction should carry the mutated bytes")
	}
	if delta[2].IsLiteral() || delta[2].Index != 2 {
		t.Error("third instruction should reference block 2")
	}
	if !bytes.Equal(patchBytes(t, base, delta, 6), source) {
		t.Error("reconstruction did not match source")
	}
}

func TestDeltaDisjointFiles(t *testing.T) {
	base := []byte("AAAAAAAAAA")
	source := []byte("BBBBBBBBBB")
	signatures := signatureOf(t, base, 10)
	delta := deltaBytes(t, source, signatures, 10)
	if len(delta) != 1 || !delta[0].IsLiteral() || !bytes.Equal(delta[0].Data, source) {
		t.Errorf("expected a single literal instruction, got %v", delta)
	}
}

func TestDeltaEmptySource(t *testing.T) {
	base := []byte("non-empty base content")
	signatures := signatureOf(t, base, 10)
	if delta := deltaBytes(t, nil, signatures, 10); len(delta) != 0 {
		t.Error("empty source produced instructions")
	}
}

func TestDeltaEmptyBase(t *testing.T) {
	// With no base, every byte is literal.
	source := []byte("brand new content")
	delta := deltaBytes(t, source, nil, 10)
	for _, instruction := range delta {
		if !instruction.IsLiteral() {
			t.Error("delta against empty base contains block references")
		}
	}
	if !bytes.Equal(patchBytes(t, nil, delta, 10), source) {
		t.Error("reconstruction did not match source")
	}
}

func TestDeltaTieBreakLowestIndex(t *testing.T) {
	// All base blocks are identical, so every weak/strong pair collides and
	// the first block must always win.
	base := bytes.Repeat([]byte("XXXXX"), 4)
	signatures := signatureOf(t, base, 5)
	delta := deltaBytes(t, base, signatures, 5)
	for _, instruction := range delta {
		if instruction.IsLiteral() {
			t.Fatal("unexpected literal instruction")
		}
		if instruction.Index != 0 {
			t.Errorf("tie-break selected index %d instead of 0", instruction.Index)
		}
	}
}

type roundTripCase struct {
	baseLength   int
	baseSeed     int64
	sourceLength int
	sourceSeed   int64
	mutations    int
	blockSize    int
}

func (c roundTripCase) generate(length int, seed int64, mutations int) []byte {
	random := rand.New(rand.NewSource(seed))
	result := make([]byte, length)
	random.Read(result)
	for i := 0; i < mutations; i++ {
		result[random.Intn(length)] += 1
	}
	return result
}

func (c roundTripCase) run(t *testing.T) {
	base := c.generate(c.baseLength, c.baseSeed, 0)
	source := c.generate(c.sourceLength, c.sourceSeed, c.mutations)
	signatures := signatureOf(t, base, c.blockSize)
	delta := deltaBytes(t, source, signatures, c.blockSize)
	if !bytes.Equal(patchBytes(t, base, delta, c.blockSize), source) {
		t.Error("reconstruction did not match source")
	}
}

func TestRoundTripSameData(t *testing.T) {
	roundTripCase{262144, 473, 262144, 473, 0, 512}.run(t)
}

func TestRoundTripMutatedData(t *testing.T) {
	roundTripCase{262144, 473, 262144, 473, 4, 512}.run(t)
}

func TestRoundTripDifferentData(t *testing.T) {
	roundTripCase{65536, 473, 32768, 182, 0, 700}.run(t)
}

func TestRoundTripShortTail(t *testing.T) {
	roundTripCase{100003, 17, 100003, 17, 1, 1000}.run(t)
}

func TestOptimalBlockSize(t *testing.T) {
	testCases := []struct {
		length   uint64
		expected int
	}{
		{0, 700},
		{1024, 700},
		{489999, 700},
		{1024 * 1024, 1024},
		{100 * 1024 * 1024, 10240},
		{1 << 40, 128 * 1024},
	}
	for _, testCase := range testCases {
		if result := OptimalBlockSize(testCase.length); result != testCase.expected {
			t.Errorf("block size for %d: expected %d, got %d", testCase.length, testCase.expected, result)
		}
	}
}

func TestParallelSignatureMatchesSequential(t *testing.T) {
	random := rand.New(rand.NewSource(99))
	data := make([]byte, 3*1024*1024+311)
	random.Read(data)

	sequential := signatureOf(t, data, 4096)
	parallel := parallelSignature(data, 4096, AlgorithmMD5)
	if len(sequential) != len(parallel) {
		t.Fatalf("signature counts differ: %d vs %d", len(sequential), len(parallel))
	}
	for i := range sequential {
		if sequential[i].Index != parallel[i].Index ||
			sequential[i].Weak != parallel[i].Weak ||
			!bytes.Equal(sequential[i].Strong, parallel[i].Strong) {
			t.Fatalf("signatures diverge at block %d", i)
		}
	}
}

func TestSignatureTableInsertionOrder(t *testing.T) {
	signatures := []BlockSignature{
		{Index: 0, Weak: 100, Strong: []byte{0}},
		{Index: 1, Weak: 200, Strong: []byte{1}},
		{Index: 2, Weak: 100, Strong: []byte{0}},
	}
	table := NewSignatureTable(signatures)
	if chain := table.Lookup(100); len(chain) != 2 {
		t.Fatalf("expected chain of 2, got %d", len(chain))
	}
	if index, ok := table.Match(100, []byte{0}); !ok || index != 0 {
		t.Error("tie-break did not select the lowest index")
	}
	if _, ok := table.Match(300, []byte{0}); ok {
		t.Error("matched a weak value with no candidates")
	}
}
