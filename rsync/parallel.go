package rsync

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelSignature hashes the blocks of an in-memory base across cores.
// Each worker pulls block indices from a shared feed and writes its results
// into a preallocated slot, so the returned signatures are already in index
// order and no re-sorting is required.
func parallelSignature(data []byte, blockSize int, algorithm Algorithm) []BlockSignature {
	// Compute the block count. An empty base has no blocks.
	blockCount := (len(data) + blockSize - 1) / blockSize
	if blockCount == 0 {
		return nil
	}

	// Preallocate result slots and create the index feed.
	result := make([]BlockSignature, blockCount)
	indices := make(chan int, blockCount)
	for i := 0; i < blockCount; i++ {
		indices <- i
	}
	close(indices)

	// Fan out workers. Each worker owns its own hasher since hash.Hash
	// instances aren't safe for concurrent use.
	workers := runtime.NumCPU()
	if workers > blockCount {
		workers = blockCount
	}
	var group errgroup.Group
	for w := 0; w < workers; w++ {
		group.Go(func() error {
			hasher := algorithm.Factory()()
			for i := range indices {
				start := i * blockSize
				end := start + blockSize
				if end > len(data) {
					end = len(data)
				}
				block := data[start:end]
				hasher.Reset()
				hasher.Write(block)
				result[i] = BlockSignature{
					Index:  uint32(i),
					Weak:   WeakChecksum(block),
					Strong: hasher.Sum(nil),
				}
			}
			return nil
		})
	}

	// Workers can't fail, so the only purpose of waiting is the barrier.
	group.Wait()

	// Done.
	return result
}
