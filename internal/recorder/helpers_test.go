package recorder_test

import (
	"fmt"
	"sync"

	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/pkg/audio"
)

// eventLog is an Observer that records every callback in order.
type eventLog struct {
	mu       sync.Mutex
	events   []string
	stops    []recorder.AudioRecording
	scores   [][2]float32
	messages []recorder.ChunkMessage
	errors   []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) OnSpeechLengthAvailable(ms float32) { l.add(fmt.Sprintf("speech:%g", ms)) }
func (l *eventLog) OnAnalyzing()                       { l.add("analyzing") }
func (l *eventLog) OnLongSilence()                     { l.add("long_silence") }

func (l *eventLog) OnRecordStop(rec recorder.AudioRecording) {
	l.mu.Lock()
	l.stops = append(l.stops, rec)
	l.mu.Unlock()
	l.add("stop")
}

func (l *eventLog) OnError(text string) {
	l.mu.Lock()
	l.errors = append(l.errors, text)
	l.mu.Unlock()
	l.add("error")
}

func (l *eventLog) OnContinuousScore(pct, bg float32) {
	l.mu.Lock()
	l.scores = append(l.scores, [2]float32{pct, bg})
	l.mu.Unlock()
	l.add(fmt.Sprintf("score:%g", pct))
}

func (l *eventLog) OnChunkMessage(m recorder.ChunkMessage) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()
	l.add("chunk_message")
}

func (l *eventLog) OnCollectedSpeechLength(speech, total float32) {
	l.add(fmt.Sprintf("collected:%g", speech))
}

func (l *eventLog) count(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.events {
		if got == e {
			n++
		}
	}
	return n
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

var _ recorder.Observer = (*eventLog)(nil)

// buf returns a buffer of n bytes filled with fill.
func buf(n int, fill byte) audio.Buffer {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return audio.Buffer{Data: b}
}
