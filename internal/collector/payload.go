package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spherical/render-driver/internal/report"
)

// readBody reads at most limit bytes of body. When more remains the rest is
// discarded so the sender can finish writing, and truncated is true.
func readBody(body io.Reader, limit int64) (data []byte, truncated bool, err error) {
	if limit <= 0 {
		data, err = io.ReadAll(body)
		return data, false, err
	}

	data, err = io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) <= limit {
		return data, false, nil
	}

	_, _ = io.Copy(io.Discard, body)
	return data[:limit], true, nil
}

// decodeIdentity recovers the scalar fields of a payload from data, which may
// be truncated or otherwise malformed. Decoding stops at the first field it
// cannot read; the snapshot is never kept.
func decodeIdentity(data []byte) report.Payload {
	var p report.Payload

	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return p
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return p
		}
		key, ok := tok.(string)
		if !ok {
			return p
		}

		var target interface{}
		switch key {
		case "browser":
			target = &p.Browser
		case "id":
			target = &p.ID
		case "file":
			target = &p.File
		case "failure":
			target = &p.Failure
		case "numPages":
			target = &p.NumPages
		case "round":
			target = &p.Round
		case "page":
			target = &p.Page
		default:
			target = new(json.RawMessage)
		}
		if err := dec.Decode(target); err != nil {
			return p
		}
	}

	return p
}

// keyed reports whether p carries enough to be stored under its result key
func keyed(p report.Payload) bool {
	return p.Browser != "" && p.ID != "" && p.Round >= 0 && p.Page >= 0
}

// collectorFailure appends a collector-side rejection to the driver's failure
func collectorFailure(failure, format string, args ...interface{}) string {
	reason := "collector: " + fmt.Sprintf(format, args...)
	if failure == "" {
		return reason
	}
	return failure + "; " + reason
}
