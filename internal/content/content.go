package content

import (
	"errors"
	"regexp"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
)

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,20}$`)
	emailRegex    = regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)+$`)

	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Formats accepted for message media and for chat/profile photos. The
// client-declared type is never trusted; the byte stream is sniffed.
var (
	mediaFormats = map[string]bool{"png": true, "jpg": true, "mp4": true, "mp3": true}
	photoFormats = map[string]bool{"png": true, "jpg": true}
)

// Sanitize removes unsafe HTML from user supplied text (messages, names,
// descriptions, bios).
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// SniffMedia detects the format of a media upload and checks it against the
// message media allow-list. Returns the detected extension.
func SniffMedia(data []byte) (string, error) {
	return sniff(data, mediaFormats)
}

// SniffPhoto detects the format of a photo upload (chat photos, avatars).
func SniffPhoto(data []byte) (string, error) {
	return sniff(data, photoFormats)
}

func sniff(data []byte, allowed map[string]bool) (string, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", ErrUnsupportedFormat
	}
	if !allowed[kind.Extension] {
		return "", ErrUnsupportedFormat
	}
	return kind.Extension, nil
}

// ValidateUsername checks that the username is 3-20 characters of
// alphanumerics, dot, dash, or underscore.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return errors.New("username must be 3-20 characters (alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// ValidateEmail checks the email shape.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return errors.New("invalid email address")
	}
	return nil
}
