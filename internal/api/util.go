package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/org/notaryadmin/internal/guard"
)

// maxBodyBytes bounds request bodies read by handlers.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	guard.WriteJSON(w, code, v)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// badRequest writes the error envelope for malformed input.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, guard.Envelope{
		Success:   false,
		Message:   msg,
		ErrorCode: guard.CodeInvalidRequest,
	})
}

// readFields returns the submitted fields of a form or JSON body. JSON
// scalars are converted to their string form; nested values are ignored.
func readFields(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	vals := url.Values{}
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			vals.Set(k, t)
		case bool:
			vals.Set(k, strconv.FormatBool(t))
		case float64:
			vals.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
		}
	}
	return vals, nil
}

// truthy interprets checkbox and boolean field values.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
