// Package wordcount bundles the map_fn/reduce_fn pair from spec.md
// §8's S1-S5 end-to-end scenarios, registered by name so a fresh node
// has at least one runnable job out of the box.
package wordcount

import (
	"strconv"
	"strings"

	"github.com/batheaded/map-reduce/internal/worker"
)

// MapName and ReduceName are the kernel names client submissions
// reference to run this job.
const (
	MapName    = "wordcount-map"
	ReduceName = "wordcount-reduce"
)

// Register installs the word-count map and reduce kernels into reg.
func Register(reg *worker.Registry) {
	reg.RegisterMap(MapName, mapFn)
	reg.RegisterReduce(ReduceName, reduceFn)
}

func mapFn(_, value []byte) ([]worker.KV, error) {
	var out []worker.KV
	for _, w := range strings.Fields(string(value)) {
		out = append(out, worker.KV{Key: []byte(w), Value: []byte("1")})
	}
	return out, nil
}

func reduceFn(_ []byte, values [][]byte) ([]byte, error) {
	sum := 0
	for _, v := range values {
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return nil, err
		}
		sum += n
	}
	return []byte(strconv.Itoa(sum)), nil
}
