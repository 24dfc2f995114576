// Package parallel splits index ranges across goroutines with a WaitGroup barrier.
package parallel

import (
	"runtime"
	"sync"
)

// minChunk keeps tiny workloads on the caller's goroutine.
const minChunk = 16

// Workers resolves a requested worker count: <=0 means GOMAXPROCS.
func Workers(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.GOMAXPROCS(0)
}

// For calls fn over [0,n) split into contiguous chunks and returns once every chunk is done.
// With workers <= 1 it runs inline.
func For(n, workers int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if workers <= 1 || n <= minChunk {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
