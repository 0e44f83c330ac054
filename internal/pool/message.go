// Package pool implements the mining pool client: line-delimited JSON
// messages over TCP, TLS or WebSocket, optionally through a SOCKS5 proxy.
package pool

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/nonce"
)

// Message represents a pool JSON message
type Message struct {
	ID     *int64      `json:"id,omitempty"`
	Method string      `json:"method,omitempty"`
	Params interface{} `json:"params,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  interface{} `json:"error,omitempty"`
}

// Message types
const (
	MethodSubscribe = "mining.subscribe"
	MethodAuthorize = "mining.authorize"
	MethodNotify    = "mining.notify"
	MethodPause     = "mining.pause"
	MethodResume    = "mining.resume"
	MethodSubmit    = "mining.submit"
)

// NewSubscribeMessage creates a new mining.subscribe message
func NewSubscribeMessage(userAgent string) Message {
	return Message{
		Method: MethodSubscribe,
		Params: []interface{}{userAgent},
	}
}

// NewAuthorizeMessage creates a new mining.authorize message
func NewAuthorizeMessage(username, password string) Message {
	return Message{
		Method: MethodAuthorize,
		Params: []interface{}{username, password},
	}
}

// NewSubmitMessage creates a new mining.submit message for an improved result.
// The nonce travels as a decimal string so it survives float64 decoders.
func NewSubmitMessage(r challenge.Result) Message {
	sol := r.Solution.Bytes()
	return Message{
		Method: MethodSubmit,
		Params: []interface{}{
			r.ChallengeID,
			r.Difficulty,
			strconv.FormatUint(r.Nonce, 10),
			hex.EncodeToString(sol[:]),
		},
	}
}

// NewNotifyMessage creates a new mining.notify notification
func NewNotifyMessage(a challenge.Assignment) Message {
	return Message{
		Method: MethodNotify,
		Params: []interface{}{
			a.ID,
			a.Challenge.String(),
			strconv.FormatUint(a.StartNonce, 10),
			strconv.FormatUint(a.EndNonce, 10),
			strconv.FormatUint(a.Cutoff, 10),
			strconv.FormatUint(a.CPUNonces, 10),
		},
	}
}

// NewErrorResponse creates a new error response
func NewErrorResponse(id *int64, code int, message string) Message {
	return Message{
		ID:    id,
		Error: []interface{}{code, message, nil},
	}
}

// NewSuccessResponse creates a new success response
func NewSuccessResponse(id *int64, result interface{}) Message {
	return Message{
		ID:     id,
		Result: result,
	}
}

// IsNotification returns true if the message is a notification (no ID)
func (m *Message) IsNotification() bool {
	return m.ID == nil
}

// IsResponse returns true if the message is a response (has ID and Result/Error)
func (m *Message) IsResponse() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// Accepted reports whether a response carries a true or non-null result and no error
func (m *Message) Accepted() bool {
	if m.Error != nil {
		return false
	}
	if b, ok := m.Result.(bool); ok {
		return b
	}
	return m.Result != nil
}

// Marshal encodes the message followed by the line delimiter
func (m *Message) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes a message keeping numbers exact
func (m *Message) Unmarshal(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(m)
}

// ParseNotify extracts an assignment from mining.notify params
// [id, challenge_hex, start, end, cutoff, cpu_nonces]. When cpu_nonces is
// missing or zero and ratio is in (0, 1) the CPU share is derived from ratio.
func ParseNotify(params interface{}, ratio float64) (challenge.Assignment, error) {
	var a challenge.Assignment
	p, ok := params.([]interface{})
	if !ok || len(p) < 4 {
		return a, fmt.Errorf("notify: expected at least 4 params, got %v", params)
	}

	id, ok := ParseUint(p[0])
	if !ok || id > math.MaxInt64 {
		return a, fmt.Errorf("notify: bad challenge id %v", p[0])
	}
	a.ID = int64(id)

	s, ok := p[1].(string)
	if !ok {
		return a, fmt.Errorf("notify: challenge is not a string")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != challenge.Size {
		return a, fmt.Errorf("notify: challenge must be %d hex bytes", challenge.Size)
	}
	copy(a.Challenge[:], raw)

	if a.StartNonce, ok = ParseUint(p[2]); !ok {
		return a, fmt.Errorf("notify: bad start nonce %v", p[2])
	}
	if a.EndNonce, ok = ParseUint(p[3]); !ok {
		return a, fmt.Errorf("notify: bad end nonce %v", p[3])
	}
	if a.EndNonce < a.StartNonce {
		return a, fmt.Errorf("notify: end nonce %d before start %d", a.EndNonce, a.StartNonce)
	}
	if len(p) > 4 {
		if a.Cutoff, ok = ParseUint(p[4]); !ok {
			return a, fmt.Errorf("notify: bad cutoff %v", p[4])
		}
	}
	if len(p) > 5 {
		if a.CPUNonces, ok = ParseUint(p[5]); !ok {
			return a, fmt.Errorf("notify: bad cpu nonces %v", p[5])
		}
	}
	if a.CPUNonces == 0 {
		a.CPUNonces = nonce.CPUShare(a.EndNonce-a.StartNonce, ratio)
	}
	if a.CPUNonces > a.EndNonce-a.StartNonce {
		a.CPUNonces = 0
	}
	return a, nil
}

// ParseUint parses an unsigned integer from the types a JSON decoder yields
func ParseUint(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := strconv.ParseUint(t.String(), 10, 64)
		return n, err == nil
	case float64:
		if t < 0 || t != math.Trunc(t) || t >= 1<<64 {
			return 0, false
		}
		return uint64(t), true
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil
	case int64:
		return uint64(t), t >= 0
	case int:
		return uint64(t), t >= 0
	default:
		return 0, false
	}
}

// Endpoint is a parsed pool URL
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
	// Path keeps the request path and query of WebSocket URLs
	Path string
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// WebSocket reports whether the endpoint uses a WebSocket transport
func (e Endpoint) WebSocket() bool {
	return e.Scheme == "ws" || e.Scheme == "wss"
}

// TLS reports whether the endpoint is encrypted
func (e Endpoint) TLS() bool {
	return e.Scheme == "stratum+ssl" || e.Scheme == "wss"
}

// URL renders the endpoint back into a URL
func (e Endpoint) URL() string {
	return e.Scheme + "://" + e.Address() + e.Path
}

// ParseURL parses stratum+tcp://, stratum+ssl://, ws:// and wss:// URLs.
// A bare host:port means stratum+tcp.
func ParseURL(raw string) (Endpoint, error) {
	if !strings.Contains(raw, "://") {
		raw = "stratum+tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse pool url: %w", err)
	}

	ep := Endpoint{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname()}
	var defPort int
	switch ep.Scheme {
	case "stratum+tcp":
		defPort = 3333
	case "stratum+ssl":
		defPort = 3334
	case "ws":
		defPort = 80
		ep.Path = u.RequestURI()
	case "wss":
		defPort = 443
		ep.Path = u.RequestURI()
	default:
		return Endpoint{}, fmt.Errorf("unsupported pool scheme %q", u.Scheme)
	}
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("pool url %q has no host", raw)
	}

	ep.Port = defPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fmt.Errorf("bad pool port %q", p)
		}
		ep.Port = n
	}
	return ep, nil
}
