//go:build !linux

package fabric

import "github.com/pkg/errors"

// tryHugepageAlloc is unsupported outside Linux; NewSlab always falls back
// to a heap allocation on these platforms.
func tryHugepageAlloc(size int) ([]byte, error) {
	return nil, errors.New("fabric: hugepage allocation unsupported on this platform")
}
