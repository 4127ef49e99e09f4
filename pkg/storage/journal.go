package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/solstice-dex/solstice/pkg/core/processor"
)

// NopJournal discards entries; used when journaling is disabled.
type NopJournal struct{}

func NewNopJournal() *NopJournal    { return &NopJournal{} }
func (*NopJournal) Append(_ string) {}

// FileJournal is an append-only instruction log, one line per applied
// instruction. It is an audit trail, not a recovery mechanism: state
// durability comes from the pebble write set.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, line)
}

func (j *FileJournal) Close() error { return j.f.Close() }

var _ processor.Journal = (*NopJournal)(nil)
var _ processor.Journal = (*FileJournal)(nil)
