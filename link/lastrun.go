package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/google/uuid"
	"github.com/snksoft/crc"

	"github.com/ultracold-lab/sequencer/eventbuf"
)

var (
	crcTable = crc.NewTable(crc.XMODEM)

	// ErrChecksum is generated when the last run file fails its CRC
	ErrChecksum = errors.New("last run file failed its checksum")

	// ErrRunPayload is generated when a stored run is not a cycle count
	// followed by whole records
	ErrRunPayload = errors.New("malformed run payload")

	// ErrNoLastRun is generated by a rerun when no run has been sent yet
	ErrNoLastRun = errors.New("no previous run to repeat")
)

// LastRun is the most recently transmitted run
type LastRun struct {
	ID      uuid.UUID
	Payload []byte
}

// checksum is the CRC-16/XMODEM of buf
func checksum(buf []byte) uint16 {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	return crcTable.CRC16(crcUint)
}

// MarshalBinary encodes the run as id || payload || crc16
func (l LastRun) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, len(uuid.UUID{})+len(l.Payload)+2)
	buf = append(buf, l.ID[:]...)
	buf = append(buf, l.Payload...)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, checksum(buf))
	return append(buf, crcBytes...), nil
}

// UnmarshalBinary decodes and verifies id || payload || crc16
func (l *LastRun) UnmarshalBinary(p []byte) error {
	idLen := len(uuid.UUID{})
	if len(p) < idLen+2 {
		return fmt.Errorf("%w: only %d bytes", ErrChecksum, len(p))
	}
	body, trailer := p[:len(p)-2], p[len(p)-2:]
	if want, got := binary.BigEndian.Uint16(trailer), checksum(body); want != got {
		return fmt.Errorf("%w: stored %#04x computed %#04x", ErrChecksum, want, got)
	}
	copy(l.ID[:], body[:idLen])
	l.Payload = append([]byte(nil), body[idLen:]...)
	return nil
}

// WriteLastRun stores run at path
func WriteLastRun(path string, run LastRun) error {
	b, _ := run.MarshalBinary()
	return ioutil.WriteFile(path, b, 0644)
}

// ReadLastRun loads and verifies the run stored at path
func ReadLastRun(path string) (LastRun, error) {
	var run LastRun
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return run, fmt.Errorf("%w: %s does not exist", ErrNoLastRun, path)
		}
		return run, err
	}
	err = run.UnmarshalBinary(b)
	return run, err
}

// SplitRunPayload separates a type-22 payload into its cycle count and the
// record stream
func SplitRunPayload(p []byte) (cycles int32, records []byte, err error) {
	if len(p) < 4 {
		return 0, nil, fmt.Errorf("%w: %d bytes has no cycle count", ErrRunPayload, len(p))
	}
	if (len(p)-4)%eventbuf.RecordSize != 0 {
		return 0, nil, fmt.Errorf("%w: %d bytes of records", ErrRunPayload, len(p)-4)
	}
	return int32(binary.BigEndian.Uint32(p)), p[4:], nil
}
