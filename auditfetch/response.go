package auditfetch

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Result is a response that satisfied the provenance contract. Exactly one of
// NoContent, Text, Value or Raw describes the payload.
type Result struct {
	Status            int
	Header            http.Header
	RequestID         string
	ResponseRequestID string
	NoContent         bool
	Body              []byte
	Text              string
	Value             any
	Raw               *http.Response

	isText bool
}

// Decode unmarshals the validated payload into out. A 204 leaves out
// untouched. Text payloads decode only into *string.
func (r *Result) Decode(out any) error {
	switch {
	case r.NoContent || out == nil:
		return nil
	case r.Raw != nil:
		return fmt.Errorf("%w: raw responses are not decoded", ErrDecodeResponse)
	case r.isText:
		target, ok := out.(*string)
		if !ok {
			return fmt.Errorf("%w: text payload cannot decode into %T", ErrDecodeResponse, out)
		}

		*target = r.Text

		return nil
	}

	if len(r.Body) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}

	return nil
}

func (r *Result) setText() {
	r.Text = string(r.Body)
	r.isText = true
}

// BodyRequestID returns the request_id the server embedded in a JSON body.
func (r *Result) BodyRequestID() string {
	obj, ok := r.Value.(map[string]any)
	if !ok {
		return ""
	}

	id, _ := obj[BodyRequestIDField].(string)

	return id
}
