package message

import (
	"bytes"

	"github.com/arya-analytics/mcpo/internal/node"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-msgpack/codec"
)

var (
	// ErrMalformed is returned when a frame cannot be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrBodyMismatch is returned when a message body does not match its
	// variant.
	ErrBodyMismatch = errors.New("message body does not match variant")
)

type envelope struct {
	Source node.ID
	Layer  int16
	Group  GroupID
	Body   []byte
}

// Encode serializes a message. The first byte is the variant, followed by a
// msgpack envelope whose body is itself msgpack encoded.
func Encode(msg Message) ([]byte, error) {
	if !msg.Variant.Valid() {
		return nil, errors.Wrapf(ErrBodyMismatch, "invalid variant %d", msg.Variant)
	}
	if msg.Body == nil {
		msg.Body = Empty{}
	}
	if err := checkBody(msg.Variant, msg.Body); err != nil {
		return nil, err
	}
	var (
		hd   = codec.MsgpackHandle{}
		body bytes.Buffer
		buf  = bytes.NewBuffer([]byte{byte(msg.Variant)})
	)
	if err := codec.NewEncoder(&body, &hd).Encode(msg.Body); err != nil {
		return nil, errors.Wrapf(err, "encode %s body", msg.Variant)
	}
	env := envelope{Source: msg.Source, Layer: msg.Layer, Group: msg.Group, Body: body.Bytes()}
	if err := codec.NewEncoder(buf, &hd).Encode(&env); err != nil {
		return nil, errors.Wrapf(err, "encode %s envelope", msg.Variant)
	}
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode.
func Decode(b []byte) (Message, error) {
	if len(b) < 2 {
		return Message{}, errors.Wrap(ErrMalformed, "short frame")
	}
	msg := Message{Variant: Variant(b[0])}
	if !msg.Variant.Valid() {
		return Message{}, errors.Wrapf(ErrMalformed, "unknown variant %d", b[0])
	}
	var (
		hd  = codec.MsgpackHandle{}
		env envelope
	)
	if err := codec.NewDecoder(bytes.NewReader(b[1:]), &hd).Decode(&env); err != nil {
		return Message{}, errors.Wrapf(ErrMalformed, "decode %s envelope: %v", msg.Variant, err)
	}
	msg.Source, msg.Layer, msg.Group = env.Source, env.Layer, env.Group
	body, err := decodeBody(msg.Variant, env.Body, &hd)
	if err != nil {
		return Message{}, err
	}
	msg.Body = body
	return msg, nil
}

func decodeBody(v Variant, b []byte, hd *codec.MsgpackHandle) (Body, error) {
	dec := codec.NewDecoder(bytes.NewReader(b), hd)
	var err error
	switch v {
	case VariantQueryResponse:
		var body Members
		if err = dec.Decode(&body); err == nil {
			return body, nil
		}
	case VariantHeartbeat, VariantLeaderHeartbeat, VariantLeaderTransfer:
		var body Heartbeat
		if err = dec.Decode(&body); err == nil {
			return body, nil
		}
	case VariantMergeRequest:
		var body Merge
		if err = dec.Decode(&body); err == nil {
			return body, nil
		}
	case VariantData:
		var body Data
		if err = dec.Decode(&body); err == nil {
			if body.Payload == nil {
				body.Payload = []byte{}
			}
			return body, nil
		}
	case VariantPollRPResponse:
		var body Rendezvous
		if err = dec.Decode(&body); err == nil {
			return body, nil
		}
	default:
		return Empty{}, nil
	}
	return nil, errors.Wrapf(ErrMalformed, "decode %s body: %v", v, err)
}

func checkBody(v Variant, b Body) error {
	var ok bool
	switch v {
	case VariantQueryResponse:
		_, ok = b.(Members)
	case VariantHeartbeat, VariantLeaderHeartbeat, VariantLeaderTransfer:
		_, ok = b.(Heartbeat)
	case VariantMergeRequest:
		_, ok = b.(Merge)
	case VariantData:
		_, ok = b.(Data)
	case VariantPollRPResponse:
		_, ok = b.(Rendezvous)
	default:
		_, ok = b.(Empty)
	}
	if !ok {
		return errors.Wrapf(ErrBodyMismatch, "%s cannot carry %T", v, b)
	}
	return nil
}
