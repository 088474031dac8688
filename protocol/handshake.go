package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	// ProtocolVersionMin is the lowest protocol version this implementation
	// can speak.
	ProtocolVersionMin int32 = 27
	// ProtocolVersionMax is the highest protocol version this implementation
	// can speak.
	ProtocolVersionMax int32 = 31
)

// Compatibility flag bits exchanged during the handshake.
const (
	// CompatIncRecurse indicates incremental recursion support.
	CompatIncRecurse byte = 1 << 0
	// CompatSymlinkTimes indicates symlink timestamp support.
	CompatSymlinkTimes byte = 1 << 1
	// CompatSymlinkIconv indicates symlink name conversion support.
	CompatSymlinkIconv byte = 1 << 2
	// CompatSafeFlist indicates safe file-list handling.
	CompatSafeFlist byte = 1 << 3
	// CompatAvoidXattrOptim disables an xattr optimization.
	CompatAvoidXattrOptim byte = 1 << 4
	// CompatChecksumSeedFix indicates the corrected seed ordering.
	CompatChecksumSeedFix byte = 1 << 5
	// CompatInplacePartialDir indicates in-place partial-dir support.
	CompatInplacePartialDir byte = 1 << 6
	// CompatVarintFlistFlags selects full-varint file-list flag encoding.
	CompatVarintFlistFlags byte = 1 << 7
)

// DefaultCompatFlags returns the capability bits advertised by this
// implementation.
func DefaultCompatFlags() byte {
	return CompatSafeFlist | CompatChecksumSeedFix | CompatVarintFlistFlags
}

// IncompatibleProtocolError indicates that version negotiation landed below
// the supported range. It is fatal for the session.
type IncompatibleProtocolError struct {
	// Local is the locally offered version.
	Local int32
	// Remote is the remotely offered version.
	Remote int32
}

// Error implements error.Error.
func (e *IncompatibleProtocolError) Error() string {
	return fmt.Sprintf("incompatible protocol versions: local %d, remote %d", e.Local, e.Remote)
}

// Role distinguishes the two ends of a handshake. The client speaks first at
// each exchange and the server responds, so the handshake can't deadlock on
// an unbuffered transport. The server supplies the checksum seed.
type Role uint8

const (
	// RoleClient initiates the session.
	RoleClient Role = iota
	// RoleServer accepts the session.
	RoleServer
)

// Session captures the parameters negotiated by a handshake. Every
// subsequent codec call references it.
type Session struct {
	// Version is the negotiated protocol version.
	Version int32
	// Flags is the intersection of both sides' compatibility flags.
	Flags byte
	// Seed is the checksum seed chosen by the server.
	Seed int32
	// Digest is the negotiated strong digest name (empty below version 30).
	Digest string
	// Compression is the negotiated compression name (empty below version
	// 30).
	Compression string
}

// VarintFlistFlags indicates whether or not the session uses full-varint
// file-list flag encoding.
func (s Session) VarintFlistFlags() bool {
	return s.Flags&CompatVarintFlistFlags != 0
}

// Handshake negotiates a session over an established transport. Both sides
// exchange a 4-byte protocol version and settle on the minimum; a result
// below the supported range is a fatal incompatibility. They then exchange
// compatibility flags (the effective set is the intersection) and the server
// transmits a checksum seed. From version 30 onward, both sides also
// exchange space-separated preference lists for the strong digest and the
// compression algorithm; the first entry of the client's list that the
// server also offers wins.
func Handshake(stream io.ReadWriter, role Role, flags byte, seed int32, digests, compressions []string) (Session, error) {
	// Exchange protocol versions.
	remoteVersion, err := exchangeInt32(stream, role, ProtocolVersionMax)
	if err != nil {
		return Session{}, errors.Wrap(err, "unable to exchange protocol versions")
	}
	version := ProtocolVersionMax
	if remoteVersion < version {
		version = remoteVersion
	}
	if version < ProtocolVersionMin {
		return Session{}, &IncompatibleProtocolError{ProtocolVersionMax, remoteVersion}
	}

	// Exchange compatibility flags.
	remoteFlags, err := exchangeByte(stream, role, flags)
	if err != nil {
		return Session{}, errors.Wrap(err, "unable to exchange compatibility flags")
	}
	session := Session{
		Version: version,
		Flags:   flags & remoteFlags,
	}

	// The server supplies the checksum seed.
	if role == RoleServer {
		var buffer [4]byte
		binary.LittleEndian.PutUint32(buffer[:], uint32(seed))
		if _, err := stream.Write(buffer[:]); err != nil {
			return Session{}, errors.Wrap(err, "unable to send checksum seed")
		}
		session.Seed = seed
	} else {
		var buffer [4]byte
		if _, err := io.ReadFull(stream, buffer[:]); err != nil {
			return Session{}, errors.Wrap(err, "unable to receive checksum seed")
		}
		session.Seed = int32(binary.LittleEndian.Uint32(buffer[:]))
	}

	// Older sessions skip algorithm negotiation.
	if version < 30 {
		return session, nil
	}

	// Negotiate the strong digest and compression algorithms.
	if session.Digest, err = negotiate(stream, role, digests); err != nil {
		return Session{}, errors.Wrap(err, "unable to negotiate digest algorithm")
	}
	if session.Compression, err = negotiate(stream, role, compressions); err != nil {
		return Session{}, errors.Wrap(err, "unable to negotiate compression algorithm")
	}

	// Success.
	return session, nil
}

// exchangeInt32 swaps a 32-bit little-endian value with the peer, client
// first.
func exchangeInt32(stream io.ReadWriter, role Role, local int32) (int32, error) {
	var buffer [4]byte
	send := func() error {
		binary.LittleEndian.PutUint32(buffer[:], uint32(local))
		_, err := stream.Write(buffer[:])
		return err
	}
	receive := func() (int32, error) {
		if _, err := io.ReadFull(stream, buffer[:]); err != nil {
			return 0, err
		}
		return int32(binary.LittleEndian.Uint32(buffer[:])), nil
	}
	if role == RoleClient {
		if err := send(); err != nil {
			return 0, err
		}
		return receive()
	}
	remote, err := receive()
	if err != nil {
		return 0, err
	}
	return remote, send()
}

// exchangeByte swaps a single byte with the peer, client first.
func exchangeByte(stream io.ReadWriter, role Role, local byte) (byte, error) {
	buffer := []byte{local}
	if role == RoleClient {
		if _, err := stream.Write(buffer); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(stream, buffer); err != nil {
			return 0, err
		}
		return buffer[0], nil
	}
	if _, err := io.ReadFull(stream, buffer); err != nil {
		return 0, err
	}
	remote := buffer[0]
	buffer[0] = local
	if _, err := stream.Write(buffer); err != nil {
		return 0, err
	}
	return remote, nil
}

// negotiate swaps space-separated preference lists and picks the first entry
// of the client's list that the server also offers.
func negotiate(stream io.ReadWriter, role Role, preferences []string) (string, error) {
	local := strings.Join(preferences, " ")
	var remote string
	if role == RoleClient {
		if err := WriteVstring(stream, local); err != nil {
			return "", err
		}
		received, err := ReadVstring(stream)
		if err != nil {
			return "", err
		}
		remote = received
	} else {
		received, err := ReadVstring(stream)
		if err != nil {
			return "", err
		}
		remote = received
		if err := WriteVstring(stream, local); err != nil {
			return "", err
		}
	}

	// Order the comparison by the client's preferences so that both sides
	// reach the same answer.
	clientList, serverList := preferences, strings.Fields(remote)
	if role == RoleServer {
		clientList, serverList = strings.Fields(remote), preferences
	}
	offered := make(map[string]bool, len(serverList))
	for _, entry := range serverList {
		offered[entry] = true
	}
	for _, entry := range clientList {
		if offered[entry] {
			return entry, nil
		}
	}
	return "", errors.New("no common algorithm")
}
