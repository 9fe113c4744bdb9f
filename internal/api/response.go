package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Response is the unified envelope for every API reply.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// WriteSuccess writes a 200 envelope with the given payload.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: generateCorrelationID(),
	})
}

// WriteError writes an error envelope with the given status and code.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: generateCorrelationID(),
	})
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(w, `{"result":"error","code":"INTERNAL","message":"encoding failed"}`)
	}
}

func generateCorrelationID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
