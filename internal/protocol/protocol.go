// Package protocol defines the wire format shared by server and client:
// the command tags carried in client frames, the file-delivery marker in
// server frames, and message rendering.
//
// A frame is one WebSocket message. Client frames are whitespace-delimited
// only up to the command arguments; upload payloads are split off at the
// first space and may themselves contain arbitrary binary data.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// GlobalRoom is the distinguished room name every subscriber is an implicit
// member of. Any other room name addresses the peer user of that name.
const GlobalRoom = "general"

// Client command tags, matched against the start of a frame.
const (
	TagSwitchChat   = "switch-chat"
	TagUploadFile   = "upload-file"
	TagDownloadFile = "download-file"
)

// FileMarker tags server frames that deliver file bytes to a client.
const FileMarker = "$file"

// ErrBadFrame reports a frame whose tag was recognized but whose arguments
// are missing or malformed. It aborts only the offending session.
var ErrBadFrame = errors.New("malformed command frame")

// Command is a parsed client frame. Exactly one concrete type applies to
// any frame, so dispatch can switch exhaustively.
type Command interface {
	command()
}

// SwitchChat changes the session's current room.
type SwitchChat struct {
	Room string
}

// UploadFile carries an opaque blob to store under the current room.
type UploadFile struct {
	Data []byte
}

// DownloadFile requests blob bytes delivered back tagged with Destination.
type DownloadFile struct {
	FileID      string
	Destination string
}

// Message is any frame that matches no command tag; its literal bytes are
// the message body.
type Message struct {
	Text []byte
}

func (SwitchChat) command()   {}
func (UploadFile) command()   {}
func (DownloadFile) command() {}
func (Message) command()      {}

// Parse classifies a client frame into a Command. Frames starting with a
// known tag but missing arguments yield ErrBadFrame.
func Parse(frame []byte) (Command, error) {
	switch {
	case bytes.HasPrefix(frame, []byte(TagSwitchChat)):
		fields := bytes.Fields(frame)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %s wants a room name", ErrBadFrame, TagSwitchChat)
		}
		return SwitchChat{Room: string(fields[1])}, nil

	case bytes.HasPrefix(frame, []byte(TagUploadFile)):
		parts := bytes.SplitN(frame, []byte(" "), 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %s wants a payload", ErrBadFrame, TagUploadFile)
		}
		return UploadFile{Data: parts[1]}, nil

	case bytes.HasPrefix(frame, []byte(TagDownloadFile)):
		parts := bytes.SplitN(frame, []byte(" "), 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %s wants a file id and a destination path", ErrBadFrame, TagDownloadFile)
		}
		return DownloadFile{FileID: string(parts[1]), Destination: string(parts[2])}, nil

	default:
		return Message{Text: frame}, nil
	}
}

// Render formats a message for delivery. Private rooms carry an extra
// visibility annotation so clients can tell the scopes apart.
func Render(username, text, room string) string {
	if room == GlobalRoom {
		return fmt.Sprintf("[%s] %s", username, text)
	}
	return fmt.Sprintf("[%s][private] %s", username, text)
}

// UploadAnnouncement is the message broadcast after a successful upload.
func UploadAnnouncement(fileID string) string {
	return fmt.Sprintf("Available file with file-id %s Type \"download\", then follow instructions to download it", fileID)
}

// EncodeFileDelivery builds a server frame carrying file bytes and the
// client-chosen destination path.
func EncodeFileDelivery(destination string, data []byte) []byte {
	frame := make([]byte, 0, len(FileMarker)+1+len(destination)+1+len(data))
	frame = append(frame, FileMarker...)
	frame = append(frame, ' ')
	frame = append(frame, destination...)
	frame = append(frame, ' ')
	frame = append(frame, data...)
	return frame
}

// FileDelivery is a decoded file-delivery frame.
type FileDelivery struct {
	Destination string
	Data        []byte
}

// ParseFileDelivery decodes a server frame if it carries file bytes. The
// second return is false for ordinary text frames.
func ParseFileDelivery(frame []byte) (FileDelivery, bool) {
	if !bytes.HasPrefix(frame, []byte(FileMarker)) {
		return FileDelivery{}, false
	}
	parts := bytes.SplitN(frame, []byte(" "), 3)
	if len(parts) != 3 {
		return FileDelivery{}, false
	}
	return FileDelivery{Destination: string(parts[1]), Data: parts[2]}, true
}
