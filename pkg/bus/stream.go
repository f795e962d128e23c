package bus

import (
	"strings"
	"sync"
	"time"
)

// sentenceEnders trigger an out-of-band flush as soon as a delta completes
// a sentence, so a bridge edit lands at a natural pause instead of always
// waiting out the throttle interval mid-word.
const sentenceEnders = ".!?\n"

// StreamNotifier accumulates text deltas from one LLM reply stream and
// flushes the full accumulated text to a callback either at a throttled
// interval or as soon as a sentence completes, so a chunky upstream
// provider stream can drive a much coarser-grained outbound channel (a
// websocket delta event, a WhatsApp bridge message edit) without flushing
// on every token.
type StreamNotifier struct {
	mu       sync.Mutex
	text     string
	onUpdate func(fullText string)
	ticker   *time.Ticker
	done     chan struct{}
	dirty    bool
}

// NewStreamNotifier creates a notifier that calls onUpdate with the full
// accumulated text every interval.
func NewStreamNotifier(interval time.Duration, onUpdate func(fullText string)) *StreamNotifier {
	sn := &StreamNotifier{
		onUpdate: onUpdate,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
	}

	go sn.loop()
	return sn
}

func (sn *StreamNotifier) loop() {
	for {
		select {
		case <-sn.ticker.C:
			sn.mu.Lock()
			if sn.dirty && sn.text != "" {
				text := sn.text
				sn.dirty = false
				sn.mu.Unlock()
				sn.onUpdate(text)
			} else {
				sn.mu.Unlock()
			}
		case <-sn.done:
			return
		}
	}
}

// Append adds a text delta to the accumulator. A delta that completes a
// sentence flushes immediately rather than waiting for the next tick.
func (sn *StreamNotifier) Append(delta string) {
	sn.mu.Lock()
	sn.text += delta
	sn.dirty = true

	var text string
	flush := strings.ContainsAny(lastRune(delta), sentenceEnders)
	if flush {
		text = sn.text
		sn.dirty = false
	}
	sn.mu.Unlock()

	if flush {
		sn.onUpdate(text)
	}
}

func lastRune(s string) string {
	if s == "" {
		return ""
	}
	return s[len(s)-1:]
}

// Flush stops the ticker and performs a final push if there's unsent content.
func (sn *StreamNotifier) Flush() {
	sn.ticker.Stop()
	close(sn.done)

	sn.mu.Lock()
	if sn.dirty && sn.text != "" {
		text := sn.text
		sn.dirty = false
		sn.mu.Unlock()
		sn.onUpdate(text)
	} else {
		sn.mu.Unlock()
	}
}

// FullText returns the current accumulated text.
func (sn *StreamNotifier) FullText() string {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	return sn.text
}
