package core

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"time"
)

// Response is the answer produced by the response pipeline for one prompt,
// carrying everything the codify stage needs to validate it against its
// sources. Hash is the md5 fingerprint of the response text and doubles as
// the source id for engrams derived from this answer.
type Response struct {
	ID             string         `json:"id"`
	Response       string         `json:"response"`
	RetrieveResult RetrieveResult `json:"retrieve_result"`
	PromptStr      string         `json:"prompt_str"`
	Analysis       PromptAnalysis `json:"analysis"`
	Model          string         `json:"model"`
	Hash           string         `json:"hash"`
	ResponseTime   time.Time      `json:"response_time"`
}

// NewResponse constructs a Response and computes its content hash.
func NewResponse(id, text string, retrieveResult RetrieveResult, promptStr string, analysis PromptAnalysis, model string) *Response {
	return &Response{
		ID:             id,
		Response:       text,
		RetrieveResult: retrieveResult,
		PromptStr:      promptStr,
		Analysis:       analysis,
		Model:          model,
		Hash:           HashContent(text),
		ResponseTime:   time.Now().UTC(),
	}
}

// HashContent returns the hex md5 digest used to fingerprint response text
// and document paths.
func HashContent(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // content fingerprint, not a security boundary
	return hex.EncodeToString(sum[:])
}
