package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamNotifier_FlushSendsRemainingTextOnce(t *testing.T) {
	var mu sync.Mutex
	var updates []string
	notifier := NewStreamNotifier(time.Hour, func(text string) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, text)
	})

	notifier.Append("hello ")
	notifier.Append("world")
	notifier.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello world"}, updates)
}

func TestStreamNotifier_FlushWithNoPendingTextSendsNothing(t *testing.T) {
	var calls int
	notifier := NewStreamNotifier(time.Hour, func(text string) { calls++ })
	notifier.Flush()
	assert.Equal(t, 0, calls)
}

func TestStreamNotifier_ThrottledFlushDeliversAccumulatedText(t *testing.T) {
	var mu sync.Mutex
	var updates []string
	notifier := NewStreamNotifier(20*time.Millisecond, func(text string) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, text)
	})
	defer notifier.Flush()

	notifier.Append("a")
	notifier.Append("b")
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, updates)
	assert.Equal(t, "ab", updates[len(updates)-1])
}

func TestStreamNotifier_FullText(t *testing.T) {
	notifier := NewStreamNotifier(time.Hour, func(string) {})
	defer notifier.Flush()
	notifier.Append("foo")
	notifier.Append("bar")
	assert.Equal(t, "foobar", notifier.FullText())
}
