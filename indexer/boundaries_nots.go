//go:build !treesitter

package indexer

import "errors"

func newTreeSitterFinder() (BoundaryFinder, error) {
	return nil, errors.New("precise chunking requires a build with -tags treesitter")
}
