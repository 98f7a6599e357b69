package builder

import (
	"fmt"
	"os"

	"bkidx/internal/format"
)

// scratchFiles holds the 1000 temporary partition files used to bucket
// (id, offset) pairs by hash before each bucket is sorted and written to
// the final index. See spec.md §4.1 step 1.
type scratchFiles struct {
	dir   string
	files [format.TableSize]*os.File
}

func newScratchFiles() (*scratchFiles, error) {
	dir, err := os.MkdirTemp("", "bkidx-scratch-*")
	if err != nil {
		return nil, fmt.Errorf("builder: create scratch dir: %w", err)
	}

	sf := &scratchFiles{dir: dir}
	for i := 0; i < format.TableSize; i++ {
		name := fmt.Sprintf("%s/bucket_%03d.tmp", dir, i)
		f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			sf.closeAndRemove()
			return nil, fmt.Errorf("builder: create scratch bucket %d: %w", i, err)
		}
		sf.files[i] = f
	}
	return sf, nil
}

// closeAndRemove closes every open scratch file and removes the scratch
// directory. Errors are best-effort: scratch files are disposable.
func (sf *scratchFiles) closeAndRemove() {
	for _, f := range sf.files {
		if f != nil {
			f.Close()
		}
	}
	if sf.dir != "" {
		os.RemoveAll(sf.dir)
	}
}
