package upstream

import (
	"bytes"
	"io"
	"sync"

	"github.com/tidwall/gjson"
)

// sseTailSize is how much of the stream tail is kept to find the usage event.
const sseTailSize = 8 * 1024

// ParseUsage reads token usage from a completion object or a single stream
// chunk. ok is false when the document carries no usage.
func ParseUsage(doc []byte) (Usage, bool) {
	if !gjson.ValidBytes(doc) {
		return Usage{}, false
	}
	res := gjson.GetManyBytes(doc, "id", "model", "usage")
	usage := res[2]
	if !usage.IsObject() {
		return Usage{}, false
	}
	return Usage{
		ID:               res[0].String(),
		Model:            res[1].String(),
		PromptTokens:     usage.Get("prompt_tokens").Int(),
		CompletionTokens: usage.Get("completion_tokens").Int(),
		TotalTokens:      usage.Get("total_tokens").Int(),
	}, true
}

// UsageObserver wraps a stream and reports the usage found in its final SSE
// events when closed. The bytes read through it are never altered.
type UsageObserver struct {
	io.ReadCloser
	onUsage func(Usage)
	tail    bytes.Buffer
	once    sync.Once
}

// ObserveUsage wraps stream. onUsage is called at most once, on Close, and
// only if a usage object was seen.
func ObserveUsage(stream io.ReadCloser, onUsage func(Usage)) *UsageObserver {
	return &UsageObserver{ReadCloser: stream, onUsage: onUsage}
}

// Read implements io.Reader and keeps a rolling tail of the stream.
func (o *UsageObserver) Read(p []byte) (int, error) {
	n, err := o.ReadCloser.Read(p)
	if n > 0 {
		o.tail.Write(p[:n])
		if o.tail.Len() > sseTailSize {
			recent := append([]byte(nil), o.tail.Bytes()[o.tail.Len()-sseTailSize:]...)
			o.tail.Reset()
			o.tail.Write(recent)
		}
	}
	return n, err
}

// Close closes the stream and reports usage.
func (o *UsageObserver) Close() error {
	err := o.ReadCloser.Close()
	o.once.Do(func() {
		if o.onUsage == nil {
			return
		}
		if usage, ok := usageFromSSE(o.tail.Bytes()); ok {
			o.onUsage(usage)
		}
	})
	return err
}

// usageFromSSE scans events from the end; providers put usage in the last
// chunk before [DONE].
func usageFromSSE(data []byte) (Usage, bool) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	events := bytes.Split(data, []byte("\n\n"))
	for i := len(events) - 1; i >= 0; i-- {
		lines := bytes.Split(events[i], []byte("\n"))
		for j := len(lines) - 1; j >= 0; j-- {
			line := bytes.TrimSpace(lines[j])
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
				continue
			}
			if usage, ok := ParseUsage(payload); ok {
				return usage, true
			}
		}
	}
	return Usage{}, false
}
