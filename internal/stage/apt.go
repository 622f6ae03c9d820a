package stage

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"
)

// APT message IDs, from the Thorlabs APT communications protocol.
const (
	msgModSetChanEnableState = 0x0210
	msgMotMoveHome           = 0x0443
	msgMotMoveHomed          = 0x0444
	msgMotMoveAbsolute       = 0x0453
	msgMotMoveCompleted      = 0x0464
	msgMotReqPosCounter      = 0x0411
	msgMotGetPosCounter      = 0x0412
)

const (
	aptHost       = 0x01
	aptLongFlag   = 0x80
	aptHeaderSize = 6
	aptMaxData    = 255
)

// APTConfig configures an APT controller connection.
type APTConfig struct {
	Port string
	// Dest is the module address: 0x50 for a T-Cube, 0x21 for bay 1 of a
	// benchtop controller.
	Dest    byte
	Channel uint16
	// CountsPerUnit converts instrument units (mm) to encoder counts.
	CountsPerUnit float64
	Backlash      float64
	// MoveTimeout bounds each move and home.
	MoveTimeout time.Duration
}

// DefaultAPTConfig matches a two-channel benchtop stepper on bay 1.
func DefaultAPTConfig() APTConfig {
	return APTConfig{
		Dest:          0x21,
		Channel:       1,
		CountsPerUnit: 409600,
		Backlash:      DefaultBacklash,
		MoveTimeout:   60 * time.Second,
	}
}

// ProtocolError is a malformed or unexpected APT frame.
type ProtocolError struct {
	MsgID  uint16
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("stage: apt message 0x%04x: %s", e.MsgID, e.Reason)
}

// APT drives a Thorlabs motor controller over its serial APT protocol.
// Moves block until the controller reports completion.
type APT struct {
	cfg APTConfig

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	closed bool
}

// Ports lists the serial ports a controller may be attached to.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// OpenAPT opens the serial port in cfg and enables the channel.
func OpenAPT(ctx context.Context, cfg APTConfig) (*APT, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("set rts on %s: %w", cfg.Port, err)
	}
	// Short reads let a blocked read notice context cancellation.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset %s: %w", cfg.Port, err)
	}

	a := NewAPT(port, cfg)
	if err := a.Enable(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewAPT wraps an open connection to a controller.
func NewAPT(conn io.ReadWriteCloser, cfg APTConfig) *APT {
	if cfg.CountsPerUnit == 0 {
		cfg.CountsPerUnit = DefaultAPTConfig().CountsPerUnit
	}
	if cfg.Channel == 0 {
		cfg.Channel = 1
	}
	if cfg.MoveTimeout == 0 {
		cfg.MoveTimeout = DefaultAPTConfig().MoveTimeout
	}
	return &APT{cfg: cfg, conn: conn}
}

// Enable switches the motor channel on.
func (a *APT) Enable(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeShort(msgModSetChanEnableState, byte(a.cfg.Channel), 0x01)
}

// MoveAbsolute moves to target with backlash compensation.
func (a *APT) MoveAbsolute(ctx context.Context, target float64) error {
	return MoveWithBacklash(ctx, a, target, a.cfg.Backlash)
}

// MoveTo moves without compensation and waits for MOVE_COMPLETED.
func (a *APT) MoveTo(ctx context.Context, target float64) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.MoveTimeout)
	defer cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:2], a.cfg.Channel)
	binary.LittleEndian.PutUint32(data[2:6], uint32(a.counts(target)))
	if err := a.writeLong(msgMotMoveAbsolute, data); err != nil {
		return err
	}
	_, err := a.await(ctx, msgMotMoveCompleted)
	return err
}

// Position reads the position counter.
func (a *APT) Position(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writeShort(msgMotReqPosCounter, byte(a.cfg.Channel), 0); err != nil {
		return 0, err
	}
	data, err := a.await(ctx, msgMotGetPosCounter)
	if err != nil {
		return 0, err
	}
	if len(data) < 6 {
		return 0, &ProtocolError{MsgID: msgMotGetPosCounter, Reason: fmt.Sprintf("%d data bytes", len(data))}
	}
	counts := int32(binary.LittleEndian.Uint32(data[2:6]))
	return float64(counts) / a.cfg.CountsPerUnit, nil
}

// Home runs the controller's homing sequence and waits for HOMED.
func (a *APT) Home(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.MoveTimeout)
	defer cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writeShort(msgMotMoveHome, byte(a.cfg.Channel), 0); err != nil {
		return err
	}
	_, err := a.await(ctx, msgMotMoveHomed)
	return err
}

// WaitMoveComplete returns at once: MoveTo only returns after the
// controller has reported the move complete.
func (a *APT) WaitMoveComplete(ctx context.Context) error {
	return ctx.Err()
}

// Close releases the serial port.
func (a *APT) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.conn.Close()
}

func (a *APT) counts(x float64) int32 {
	return int32(math.Round(x * a.cfg.CountsPerUnit))
}

func (a *APT) writeShort(id uint16, p1, p2 byte) error {
	if a.closed {
		return ErrNotConnected
	}
	msg := make([]byte, aptHeaderSize)
	binary.LittleEndian.PutUint16(msg[0:2], id)
	msg[2], msg[3] = p1, p2
	msg[4], msg[5] = a.cfg.Dest, aptHost
	_, err := a.conn.Write(msg)
	if err != nil {
		return fmt.Errorf("stage: write 0x%04x: %w", id, err)
	}
	return nil
}

func (a *APT) writeLong(id uint16, data []byte) error {
	if a.closed {
		return ErrNotConnected
	}
	msg := make([]byte, aptHeaderSize+len(data))
	binary.LittleEndian.PutUint16(msg[0:2], id)
	binary.LittleEndian.PutUint16(msg[2:4], uint16(len(data)))
	msg[4], msg[5] = a.cfg.Dest|aptLongFlag, aptHost
	copy(msg[aptHeaderSize:], data)
	_, err := a.conn.Write(msg)
	if err != nil {
		return fmt.Errorf("stage: write 0x%04x: %w", id, err)
	}
	return nil
}

// await reads frames until one with the wanted ID arrives and returns its
// data. Unsolicited frames such as status updates are skipped.
func (a *APT) await(ctx context.Context, want uint16) ([]byte, error) {
	for {
		hdr := make([]byte, aptHeaderSize)
		if err := a.readFull(ctx, hdr); err != nil {
			return nil, err
		}
		id := binary.LittleEndian.Uint16(hdr[0:2])

		var data []byte
		if hdr[4]&aptLongFlag != 0 {
			n := int(binary.LittleEndian.Uint16(hdr[2:4]))
			if n > aptMaxData {
				return nil, &ProtocolError{MsgID: id, Reason: fmt.Sprintf("data length %d", n)}
			}
			data = make([]byte, n)
			if err := a.readFull(ctx, data); err != nil {
				return nil, err
			}
		}
		if id == want {
			return data, nil
		}
	}
}

// readFull fills buf, checking ctx between reads. A serial read that times
// out returns no bytes and no error.
func (a *APT) readFull(ctx context.Context, buf []byte) error {
	for off := 0; off < len(buf); {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stage: waiting for controller: %w", err)
		}
		n, err := a.conn.Read(buf[off:])
		off += n
		if err != nil {
			return fmt.Errorf("stage: read: %w", err)
		}
	}
	return nil
}
