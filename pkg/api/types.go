package api

import "encoding/hex"

// ErrorResponse is the envelope for failed requests.
type ErrorResponse struct {
	Code  uint32 `json:"code"`
	Error string `json:"error"`
}

// SubmitTxResponse reports the admission outcome of a submitted tx.
type SubmitTxResponse struct {
	Code uint32 `json:"code"`
	Log  string `json:"log"`
}

// StatusResponse is the chain status summary.
type StatusResponse struct {
	Height      int64  `json:"height"`
	AppHash     string `json:"app_hash"`
	MempoolSize int    `json:"mempool_size"`
}

// WSSubscribeRequest is a client subscription change. Channels are
// event type names, or "all".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

func hexBytes(b []byte) string { return hex.EncodeToString(b) }
