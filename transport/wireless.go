package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
)

// MessageType identifies a message exchanged over a wireless link.
type MessageType uint8

const (
	// MsgGetPaymentRequest asks the device for its payment request. The
	// payload is the requested path.
	MsgGetPaymentRequest MessageType = 1

	// MsgPaymentRequest carries a serialized payment request.
	MsgPaymentRequest MessageType = 2

	// MsgPayment carries a serialized payment.
	MsgPayment MessageType = 3

	// MsgPaymentACK carries a serialized payment acknowledgement.
	MsgPaymentACK MessageType = 4

	// MsgError carries a human readable error from the device.
	MsgError MessageType = 5
)

const (
	typeMsgType tlv.Type = 0
	typePayload tlv.Type = 2

	// maxFrameSize caps a single wireless frame.
	maxFrameSize = 1 << 20
)

// Radio is a short-range radio able to open a stream to a device.
type Radio interface {
	// Enabled reports whether the radio is switched on.
	Enabled() bool

	// Permitted reports whether the radio may be used.
	Permitted() bool

	// Dial opens a stream to the device with the given compressed MAC
	// address.
	Dial(ctx context.Context, mac string) (io.ReadWriteCloser, error)
}

// WirelessTransport speaks the payment protocol over a Radio. Every message
// is a length prefixed TLV stream.
type WirelessTransport struct {
	radio   Radio
	timeout time.Duration
}

// A compile-time assertion that WirelessTransport satisfies Transport.
var _ Transport = (*WirelessTransport)(nil)

// NewWirelessTransport creates a new wireless transport.
func NewWirelessTransport(radio Radio,
	timeout time.Duration) *WirelessTransport {

	return &WirelessTransport{
		radio:   radio,
		timeout: timeout,
	}
}

// Available reports whether the radio can be used right now.
func (w *WirelessTransport) Available() bool {
	return w.radio != nil && w.radio.Enabled() && w.radio.Permitted()
}

// FetchPaymentRequest retrieves a payment request from a device.
func (w *WirelessTransport) FetchPaymentRequest(ctx context.Context,
	endpoint string) ([]byte, error) {

	target, err := ParseWireless(endpoint)
	if err != nil {
		return nil, err
	}

	return w.exchange(
		ctx, target, MsgGetPaymentRequest, []byte(target.Path),
		MsgPaymentRequest,
	)
}

// SubmitPayment delivers a payment to a device and returns its ack.
func (w *WirelessTransport) SubmitPayment(ctx context.Context,
	endpoint string, payment []byte) ([]byte, error) {

	target, err := ParseWireless(endpoint)
	if err != nil {
		return nil, err
	}

	return w.exchange(ctx, target, MsgPayment, payment, MsgPaymentACK)
}

func (w *WirelessTransport) exchange(ctx context.Context,
	target *WirelessTarget, reqType MessageType, payload []byte,
	wantType MessageType) ([]byte, error) {

	switch {
	case w.radio == nil:
		return nil, ErrRadioUnavailable
	case !w.radio.Enabled():
		return nil, ErrRadioDisabled
	case !w.radio.Permitted():
		return nil, ErrRadioNotPermitted
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	conn, err := w.radio.Dial(ctx, target.MAC)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w",
			DecompressMAC(target.MAC), err)
	}
	defer conn.Close()

	// Closing the stream unblocks pending reads once the deadline hits.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Debugf("Sending message type %d (%d bytes) to %s", reqType,
		len(payload), DecompressMAC(target.MAC))

	if err := WriteMessage(conn, reqType, payload); err != nil {
		return nil, err
	}

	msgType, resp, err := ReadMessage(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	switch msgType {
	case wantType:
		return resp, nil

	case MsgError:
		return nil, fmt.Errorf("device error: %s", resp)

	default:
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrUnexpectedMessage, msgType, wantType)
	}
}

// WriteMessage writes one framed message.
func WriteMessage(w io.Writer, msgType MessageType, payload []byte) error {
	rawType := uint8(msgType)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMsgType, &rawType),
		tlv.MakePrimitiveRecord(typePayload, &payload),
	)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	if err := stream.Encode(&body); err != nil {
		return err
	}
	if body.Len() > maxFrameSize {
		return ErrFrameTooLarge
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(body.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body.Bytes())

	return err
}

// ReadMessage reads one framed message.
func ReadMessage(r io.Reader) (MessageType, []byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return 0, nil, err
	}

	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > maxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	var (
		rawType uint8
		payload []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMsgType, &rawType),
		tlv.MakePrimitiveRecord(typePayload, &payload),
	)
	if err != nil {
		return 0, nil, err
	}
	if err := stream.Decode(bytes.NewReader(body)); err != nil {
		return 0, nil, err
	}

	return MessageType(rawType), payload, nil
}
