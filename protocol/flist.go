package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Transmission flag bits for file-list entries. Each bit indicates that a
// field matches the previous entry (and is therefore omitted) or that an
// extended form follows.
const (
	// XmitTopDir marks a top-level directory.
	XmitTopDir uint16 = 1 << 0
	// XmitSameMode indicates the mode matches the previous entry.
	XmitSameMode uint16 = 1 << 1
	// XmitExtendedFlags indicates a second flag byte follows.
	XmitExtendedFlags uint16 = 1 << 2
	// XmitSameUID indicates the uid matches the previous entry.
	XmitSameUID uint16 = 1 << 3
	// XmitSameGID indicates the gid matches the previous entry.
	XmitSameGID uint16 = 1 << 4
	// XmitSameName indicates the name shares a prefix with the previous
	// entry.
	XmitSameName uint16 = 1 << 5
	// XmitLongName indicates the name suffix length exceeds a byte.
	XmitLongName uint16 = 1 << 6
	// XmitSameTime indicates the modification time matches the previous
	// entry.
	XmitSameTime uint16 = 1 << 7
)

// Mode bits identifying entry kinds in file-list transmission.
const (
	// ModeTypeMask extracts the kind bits from a mode.
	ModeTypeMask uint32 = 0o170000
	// ModeRegular marks a regular file.
	ModeRegular uint32 = 0o100000
	// ModeDirectory marks a directory.
	ModeDirectory uint32 = 0o040000
	// ModeSymlink marks a symbolic link.
	ModeSymlink uint32 = 0o120000
)

// FileEntry is the wire representation of a single tree entry. Paths are
// relative, slash-separated, and never contain ".." segments or a leading
// separator.
type FileEntry struct {
	// Name is the entry's relative path.
	Name string
	// Mode carries the entry kind and permission bits.
	Mode uint32
	// Size is the entry length in bytes.
	Size int64
	// ModTime is the modification time in seconds since the Unix epoch.
	ModTime int64
	// UID is the owning user id.
	UID uint32
	// GID is the owning group id.
	GID uint32
	// LinkTarget is the symlink target for symlink entries.
	LinkTarget string
}

// IsDirectory indicates whether or not the entry is a directory.
func (e FileEntry) IsDirectory() bool {
	return e.Mode&ModeTypeMask == ModeDirectory
}

// IsSymlink indicates whether or not the entry is a symbolic link.
func (e FileEntry) IsSymlink() bool {
	return e.Mode&ModeTypeMask == ModeSymlink
}

// listState holds the delta-coding state shared by the encoder and decoder.
// Each entry is coded against the previous one, so both ends must update
// identical fields in identical order.
type listState struct {
	lastName    string
	lastMode    uint32
	lastModTime int64
	lastUID     uint32
	lastGID     uint32
}

// ListEncoder writes file-list entries to a stream with delta compression of
// names and repeated fields.
type ListEncoder struct {
	writer  io.Writer
	session Session
	state   listState
}

// NewListEncoder creates a file-list encoder bound to a negotiated session.
func NewListEncoder(writer io.Writer, session Session) *ListEncoder {
	return &ListEncoder{
		writer:  writer,
		session: session,
	}
}

// WriteEntry encodes a single entry.
func (e *ListEncoder) WriteEntry(entry FileEntry) error {
	// Compute the transmission flags against the previous entry.
	var flags uint16
	prefix := commonPrefix(e.state.lastName, entry.Name)
	if prefix > 0 {
		flags |= XmitSameName
	}
	suffix := len(entry.Name) - prefix
	if suffix > 255 {
		flags |= XmitLongName
	}
	if entry.ModTime == e.state.lastModTime {
		flags |= XmitSameTime
	}
	if entry.Mode == e.state.lastMode && e.state.lastMode != 0 {
		flags |= XmitSameMode
	}
	if entry.UID == e.state.lastUID && e.state.lastUID != 0 {
		flags |= XmitSameUID
	}
	if entry.GID == e.state.lastGID && e.state.lastGID != 0 {
		flags |= XmitSameGID
	}
	if entry.IsDirectory() {
		flags |= XmitTopDir
	}
	if e.session.Version >= 28 && flags>>8 != 0 {
		flags |= XmitExtendedFlags
	}
	if flags == 0 {
		// A zero flag byte would read as the end-of-list marker.
		flags |= XmitTopDir
	}

	// Write the flags in the negotiated form.
	if e.session.VarintFlistFlags() {
		if err := WriteVarint(e.writer, int32(flags)); err != nil {
			return err
		}
	} else if e.session.Version >= 28 && flags&XmitExtendedFlags != 0 {
		if err := WriteShortint(e.writer, flags); err != nil {
			return err
		}
	} else {
		if _, err := e.writer.Write([]byte{byte(flags)}); err != nil {
			return errors.Wrap(err, "unable to write entry flags")
		}
	}

	// Write the name as a shared prefix length plus suffix.
	if flags&XmitSameName != 0 {
		if _, err := e.writer.Write([]byte{byte(prefix)}); err != nil {
			return errors.Wrap(err, "unable to write name prefix length")
		}
	}
	if flags&XmitLongName != 0 {
		if err := WriteVarint30(e.writer, int64(suffix)); err != nil {
			return err
		}
	} else {
		if _, err := e.writer.Write([]byte{byte(suffix)}); err != nil {
			return errors.Wrap(err, "unable to write name suffix length")
		}
	}
	if _, err := io.WriteString(e.writer, entry.Name[prefix:]); err != nil {
		return errors.Wrap(err, "unable to write name suffix")
	}

	// Write the remaining fields, skipping those flagged as unchanged.
	if err := WriteVarlong30(e.writer, entry.Size); err != nil {
		return err
	}
	if flags&XmitSameTime == 0 {
		if e.session.Version >= 30 {
			if err := WriteVarlong30(e.writer, entry.ModTime); err != nil {
				return err
			}
		} else {
			var buffer [4]byte
			binary.LittleEndian.PutUint32(buffer[:], uint32(int32(entry.ModTime)))
			if _, err := e.writer.Write(buffer[:]); err != nil {
				return errors.Wrap(err, "unable to write modification time")
			}
		}
	}
	if flags&XmitSameMode == 0 {
		var buffer [4]byte
		binary.LittleEndian.PutUint32(buffer[:], entry.Mode)
		if _, err := e.writer.Write(buffer[:]); err != nil {
			return errors.Wrap(err, "unable to write mode")
		}
	}
	if flags&XmitSameUID == 0 {
		if err := e.writeID(entry.UID); err != nil {
			return err
		}
	}
	if flags&XmitSameGID == 0 {
		if err := e.writeID(entry.GID); err != nil {
			return err
		}
	}
	if entry.IsSymlink() {
		if err := WriteVarint30(e.writer, int64(len(entry.LinkTarget))); err != nil {
			return err
		}
		if _, err := io.WriteString(e.writer, entry.LinkTarget); err != nil {
			return errors.Wrap(err, "unable to write link target")
		}
	}

	// Update the delta-coding state.
	e.state.lastName = entry.Name
	e.state.lastMode = entry.Mode
	e.state.lastModTime = entry.ModTime
	e.state.lastUID = entry.UID
	e.state.lastGID = entry.GID

	// Success.
	return nil
}

// WriteEnd emits the end-of-list marker.
func (e *ListEncoder) WriteEnd() error {
	if e.session.VarintFlistFlags() {
		return WriteVarint(e.writer, 0)
	}
	_, err := e.writer.Write([]byte{0})
	return errors.Wrap(err, "unable to write end of list")
}

// writeID encodes a uid or gid for the session's protocol version.
func (e *ListEncoder) writeID(id uint32) error {
	if e.session.Version >= 30 {
		return WriteVarint(e.writer, int32(id))
	}
	var buffer [4]byte
	binary.LittleEndian.PutUint32(buffer[:], id)
	_, err := e.writer.Write(buffer[:])
	return errors.Wrap(err, "unable to write id")
}

// ListDecoder reads file-list entries encoded by ListEncoder.
type ListDecoder struct {
	reader  io.Reader
	session Session
	state   listState
}

// NewListDecoder creates a file-list decoder bound to a negotiated session.
func NewListDecoder(reader io.Reader, session Session) *ListDecoder {
	return &ListDecoder{
		reader:  reader,
		session: session,
	}
}

// ReadEntry decodes the next entry. It returns done == true when the
// end-of-list marker is reached.
func (d *ListDecoder) ReadEntry() (FileEntry, bool, error) {
	// Read the flags in the negotiated form, watching for the end marker.
	var flags uint16
	if d.session.VarintFlistFlags() {
		value, err := ReadVarint(d.reader)
		if err != nil {
			return FileEntry{}, false, err
		}
		if value == 0 {
			return FileEntry{}, true, nil
		}
		flags = uint16(value)
	} else {
		first, err := readByte(d.reader)
		if err != nil {
			return FileEntry{}, false, errors.Wrap(err, "unable to read entry flags")
		}
		if first == 0 {
			return FileEntry{}, true, nil
		}
		flags = uint16(first)
		if d.session.Version >= 28 && flags&XmitExtendedFlags != 0 {
			second, err := readByte(d.reader)
			if err != nil {
				return FileEntry{}, false, errors.Wrap(err, "unable to read extended entry flags")
			}
			flags |= uint16(second) << 8
		}
	}

	// Read the name.
	var prefix int
	if flags&XmitSameName != 0 {
		length, err := readByte(d.reader)
		if err != nil {
			return FileEntry{}, false, errors.Wrap(err, "unable to read name prefix length")
		}
		prefix = int(length)
		if prefix > len(d.state.lastName) {
			return FileEntry{}, false, errors.New("name prefix exceeds previous name")
		}
	}
	var suffix int
	if flags&XmitLongName != 0 {
		length, err := ReadVarint30(d.reader)
		if err != nil {
			return FileEntry{}, false, err
		}
		if length < 0 || length > maxVstringLength {
			return FileEntry{}, false, errors.New("invalid name suffix length")
		}
		suffix = int(length)
	} else {
		length, err := readByte(d.reader)
		if err != nil {
			return FileEntry{}, false, errors.Wrap(err, "unable to read name suffix length")
		}
		suffix = int(length)
	}
	suffixBytes := make([]byte, suffix)
	if _, err := io.ReadFull(d.reader, suffixBytes); err != nil {
		return FileEntry{}, false, errors.Wrap(err, "unable to read name suffix")
	}
	entry := FileEntry{Name: d.state.lastName[:prefix] + string(suffixBytes)}

	// Read the remaining fields, inheriting those flagged as unchanged.
	size, err := ReadVarlong30(d.reader)
	if err != nil {
		return FileEntry{}, false, err
	}
	entry.Size = size
	if flags&XmitSameTime != 0 {
		entry.ModTime = d.state.lastModTime
	} else if d.session.Version >= 30 {
		if entry.ModTime, err = ReadVarlong30(d.reader); err != nil {
			return FileEntry{}, false, err
		}
	} else {
		var buffer [4]byte
		if _, err := io.ReadFull(d.reader, buffer[:]); err != nil {
			return FileEntry{}, false, errors.Wrap(err, "unable to read modification time")
		}
		entry.ModTime = int64(int32(binary.LittleEndian.Uint32(buffer[:])))
	}
	if flags&XmitSameMode != 0 {
		entry.Mode = d.state.lastMode
	} else {
		var buffer [4]byte
		if _, err := io.ReadFull(d.reader, buffer[:]); err != nil {
			return FileEntry{}, false, errors.Wrap(err, "unable to read mode")
		}
		entry.Mode = binary.LittleEndian.Uint32(buffer[:])
	}
	if flags&XmitSameUID != 0 {
		entry.UID = d.state.lastUID
	} else if entry.UID, err = d.readID(); err != nil {
		return FileEntry{}, false, err
	}
	if flags&XmitSameGID != 0 {
		entry.GID = d.state.lastGID
	} else if entry.GID, err = d.readID(); err != nil {
		return FileEntry{}, false, err
	}
	if entry.IsSymlink() {
		length, err := ReadVarint30(d.reader)
		if err != nil {
			return FileEntry{}, false, err
		}
		if length < 0 || length > maxVstringLength {
			return FileEntry{}, false, errors.New("invalid link target length")
		}
		target := make([]byte, length)
		if _, err := io.ReadFull(d.reader, target); err != nil {
			return FileEntry{}, false, errors.Wrap(err, "unable to read link target")
		}
		entry.LinkTarget = string(target)
	}

	// Update the delta-coding state.
	d.state.lastName = entry.Name
	d.state.lastMode = entry.Mode
	d.state.lastModTime = entry.ModTime
	d.state.lastUID = entry.UID
	d.state.lastGID = entry.GID

	// Success.
	return entry, false, nil
}

// readID decodes a uid or gid for the session's protocol version.
func (d *ListDecoder) readID() (uint32, error) {
	if d.session.Version >= 30 {
		value, err := ReadVarint(d.reader)
		if err != nil {
			return 0, err
		}
		return uint32(value), nil
	}
	var buffer [4]byte
	if _, err := io.ReadFull(d.reader, buffer[:]); err != nil {
		return 0, errors.Wrap(err, "unable to read id")
	}
	return binary.LittleEndian.Uint32(buffer[:]), nil
}

// commonPrefix computes the length of the shared leading bytes of two
// strings, capped so that it fits the single-byte wire field.
func commonPrefix(previous, current string) int {
	limit := len(previous)
	if len(current) < limit {
		limit = len(current)
	}
	if limit > 255 {
		limit = 255
	}
	prefix := 0
	for prefix < limit && previous[prefix] == current[prefix] {
		prefix++
	}
	return prefix
}
