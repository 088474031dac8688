package rsync

import (
	"bytes"
	"testing"
)

func TestAlgorithmRoundTrip(t *testing.T) {
	for _, name := range []string{"md4", "md5", "blake2b", "xxh128"} {
		var algorithm Algorithm
		if err := algorithm.UnmarshalText([]byte(name)); err != nil {
			t.Errorf("unable to parse %s: %v", name, err)
			continue
		}
		marshaled, err := algorithm.MarshalText()
		if err != nil {
			t.Errorf("unable to marshal %s: %v", name, err)
		} else if string(marshaled) != name {
			t.Errorf("round trip changed %s to %s", name, marshaled)
		}
	}
	var algorithm Algorithm
	if err := algorithm.UnmarshalText([]byte("sha0")); err == nil {
		t.Error("parsed an unknown algorithm")
	}
}

func TestAlgorithmDigestSizes(t *testing.T) {
	testCases := []struct {
		algorithm Algorithm
		size      int
	}{
		{AlgorithmMD4, 16},
		{AlgorithmMD5, 16},
		{AlgorithmBLAKE2b, 64},
	}
	for _, testCase := range testCases {
		hasher := testCase.algorithm.Factory()()
		hasher.Write([]byte("test data"))
		if digest := hasher.Sum(nil); len(digest) != testCase.size {
			t.Errorf("%s digest has %d bytes, expected %d",
				testCase.algorithm.Description(), len(digest), testCase.size)
		}
		if testCase.algorithm.Size() != testCase.size {
			t.Errorf("%s reports size %d, expected %d",
				testCase.algorithm.Description(), testCase.algorithm.Size(), testCase.size)
		}
	}
}

func TestAlgorithmsDiffer(t *testing.T) {
	data := []byte("test data")
	digests := make(map[string][]byte)
	for _, algorithm := range []Algorithm{AlgorithmMD4, AlgorithmMD5, AlgorithmBLAKE2b} {
		hasher := algorithm.Factory()()
		hasher.Write(data)
		digests[algorithm.Description()] = hasher.Sum(nil)
	}
	if bytes.Equal(digests["MD4"], digests["MD5"]) {
		t.Error("MD4 and MD5 produced identical digests")
	}
}

func TestAlgorithmDeterministic(t *testing.T) {
	data := []byte("deterministic test")
	first := AlgorithmMD5.Factory()()
	first.Write(data)
	second := AlgorithmMD5.Factory()()
	second.Write(data)
	if !bytes.Equal(first.Sum(nil), second.Sum(nil)) {
		t.Error("identical inputs produced different digests")
	}
}

func TestXXH128Unsupported(t *testing.T) {
	// The name parses, but the algorithm must refuse to hash rather than
	// silently aliasing to another algorithm.
	if AlgorithmXXH128.Supported() {
		t.Error("xxh128 reports itself as supported")
	}
	if _, err := NewGenerator(700, AlgorithmXXH128); err == nil {
		t.Error("generator accepted an unsupported algorithm")
	}
	if _, err := NewSender(700, AlgorithmXXH128, nil, nil); err == nil {
		t.Error("sender accepted an unsupported algorithm")
	}
}
