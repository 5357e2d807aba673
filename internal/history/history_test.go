package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Text)
	}
	return out
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Add(Record{Text: fmt.Sprintf("r%d", i)})
	}

	require.Equal(t, 3, b.Len())
	require.Equal(t, []string{"r3", "r4", "r5"}, texts(b.Recent(0)))
	require.Equal(t, []string{"r4", "r5"}, texts(b.Recent(2)))
	require.Equal(t, []string{"r3", "r4", "r5"}, texts(b.Recent(10)))
}

func TestBufferBeforeWrap(t *testing.T) {
	b := New(4)
	require.Empty(t, b.Recent(0))

	b.Add(Record{Text: "a"})
	b.Add(Record{Text: "b"})
	require.Equal(t, 2, b.Len())
	require.Equal(t, []string{"b"}, texts(b.Recent(1)))
	require.Equal(t, []string{"a", "b"}, texts(b.Recent(-1)))
}

func TestBufferDefaultCapacity(t *testing.T) {
	require.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestBufferNeverExceedsCapacityUnderConcurrency(t *testing.T) {
	b := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Add(Record{Text: "x"})
				assert.LessOrEqual(t, b.Len(), 50)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, b.Len())
	require.Len(t, b.Recent(0), 50)
}
