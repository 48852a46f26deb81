// Package envelope renders the uniform JSON body shared by every gateway response.
package envelope

import (
	"encoding/json"
	"log"
	"net/http"
)

// ContentType is the media type of every envelope.
const ContentType = "application/json;charset=UTF-8"

// Fixed codes and messages for the two denial outcomes.
const (
	CodeUnauthorized    = "401-1"
	MessageUnauthorized = "invalid credentials"
	CodeForbidden       = "403-1"
	MessageForbidden    = "access denied"
)

// RsData is the response envelope. Data is serialized as null when empty.
type RsData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Write renders body with the given HTTP status.
func Write(w http.ResponseWriter, status int, body RsData) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("envelope: failed to encode %s response: %v", body.Code, err)
	}
}

// Unauthorized writes the 401-1 envelope.
func Unauthorized(w http.ResponseWriter) {
	Write(w, http.StatusUnauthorized, RsData{Code: CodeUnauthorized, Message: MessageUnauthorized})
}

// Forbidden writes the 403-1 envelope.
func Forbidden(w http.ResponseWriter) {
	Write(w, http.StatusForbidden, RsData{Code: CodeForbidden, Message: MessageForbidden})
}

// OK writes a success envelope. The code is derived from status, e.g. "200-1".
func OK(w http.ResponseWriter, status int, message string, data any) {
	Write(w, status, RsData{Code: successCode(status), Message: message, Data: data})
}

func successCode(status int) string {
	switch status {
	case http.StatusCreated:
		return "201-1"
	default:
		return "200-1"
	}
}
