/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shookYu/FalconMind/pkg/errors"
)

const maxBodyBytes = 1 << 20

// response is the envelope every API verb answers with: a status token plus
// either the entity or the error kind and message.
type response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, response{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	writeJSON(w, statusFor(kind), response{Status: "error", Kind: string(kind), Message: err.Error()})
}

// statusFor maps the error taxonomy onto HTTP status codes. Retryable kinds
// answer with codes clients treat as retry-later.
func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindInvalidState:
		return http.StatusConflict
	case errors.KindCapacityExhausted:
		return http.StatusTooManyRequests
	case errors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, rejecting oversized or malformed input
// with a Validation error.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(errors.KindValidation, err, "reading request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(errors.KindValidation, err, "decoding request body")
	}
	return nil
}
