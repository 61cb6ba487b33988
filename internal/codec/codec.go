// Package codec provides pluggable wire-payload marshaling for pool manager
// requests to worker processes. The default build uses encoding/json to
// match the worker contract's literal JSON wire format; alternate JSON
// implementations are selected at compile time via build tags, and a
// MessagePack codec is available at runtime through New.
package codec

import (
	"fmt"
	"os"
)

// Codec defines the interface for encoding/decoding worker request and
// response bodies.
type Codec interface {
	// Marshal serializes a value to bytes.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal deserializes bytes to a value.
	Unmarshal(data []byte, v interface{}) error

	// Name returns the name of the codec.
	Name() string
}

// Type represents the type of codec to use.
type Type string

const (
	// TypeJSON uses JSON encoding (default, and the only wire-compatible
	// choice for talking to the worker contract).
	TypeJSON Type = "json"
	// TypeMessagePack uses MessagePack encoding, for internal call paths
	// that don't need to speak the worker's literal JSON contract.
	TypeMessagePack Type = "msgpack"
)

// ActiveJSONCodecName returns the name of the JSON codec implementation
// linked into this build (stdlib, goccy, or segmentio, depending on build
// tags). Can be overridden at runtime with the TIERROUTER_JSON_CODEC
// environment variable for diagnostics.
func ActiveJSONCodecName() string {
	if name := os.Getenv("TIERROUTER_JSON_CODEC"); name != "" {
		return name
	}
	return (&JSONCodec{}).Name()
}

// New creates a new codec based on the requested type.
func New(t Type) (Codec, error) {
	switch t {
	case TypeJSON, "":
		return &JSONCodec{}, nil
	case TypeMessagePack:
		return &MessagePackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec type: %s", t)
	}
}
