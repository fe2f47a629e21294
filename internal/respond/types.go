// ABOUTME: JSON shapes returned by the handler engine over HTTP

package respond

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/2389/nightlife/internal/subprocess"
)

// TopicHandlers names a topic and its handlers in execution order.
type TopicHandlers struct {
	Name     string   `json:"name"`
	Handlers []string `json:"handlers"`
}

// TopicRegistry lists every topic on this host.
type TopicRegistry struct {
	Topics []TopicHandlers `json:"topics"`
}

// Status classifies one handler run. ExitStatus is null exactly when TimedOut.
type Status struct {
	Success    bool  `json:"success"`
	TimedOut   bool  `json:"timed_out"`
	ExitStatus *int  `json:"exit_status"`
	RuntimeMS  int64 `json:"runtime_ms"`
}

// Output is a possibly truncated stream. Length is the untruncated size.
//
// Output holds the raw bytes. On the wire it is plain text when those bytes
// are valid UTF-8, otherwise base64 with "encoding": "base64".
type Output struct {
	Truncated bool
	Length    int64
	Output    string
}

// EncodingBase64 marks an output field carrying base64 text.
const EncodingBase64 = "base64"

type wireOutput struct {
	Truncated bool   `json:"truncated"`
	Length    int64  `json:"length"`
	Encoding  string `json:"encoding,omitempty"`
	Output    string `json:"output"`
}

func (o Output) MarshalJSON() ([]byte, error) {
	w := wireOutput{Truncated: o.Truncated, Length: o.Length, Output: o.Output}
	if !utf8.ValidString(o.Output) {
		w.Encoding = EncodingBase64
		w.Output = base64.StdEncoding.EncodeToString([]byte(o.Output))
	}
	return json.Marshal(w)
}

func (o *Output) UnmarshalJSON(data []byte) error {
	var w wireOutput
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Encoding {
	case "":
	case EncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(w.Output)
		if err != nil {
			return fmt.Errorf("decoding output: %w", err)
		}
		w.Output = string(raw)
	default:
		return fmt.Errorf("unknown output encoding %q", w.Encoding)
	}
	*o = Output{Truncated: w.Truncated, Length: w.Length, Output: w.Output}
	return nil
}

func newOutput(c subprocess.Capture) Output {
	return Output{
		Truncated: c.Truncated(),
		Length:    c.Length,
		Output:    string(c.Data),
	}
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Stdout Output `json:"stdout"`
	Stderr Output `json:"stderr"`
}

// TopicResults collects results for a topic in execution order.
type TopicResults struct {
	Name     string          `json:"name"`
	Handlers []HandlerResult `json:"handlers"`
}
