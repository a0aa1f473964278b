package mailer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileTransport writes the HTML of each message to <dir>/<key>.html instead of sending it.
// It is used when sending is disabled and by the render command.
type FileTransport struct {
	dir    string
	logger *log.Logger
}

func NewFileTransport(dir string, logger *log.Logger) *FileTransport {
	if logger == nil {
		logger = log.Default()
	}
	return &FileTransport{dir: dir, logger: logger}
}

// Path returns the file a message with key is written to.
func (f *FileTransport) Path(key string) string {
	name := unsafeFileChars.ReplaceAllString(key, "_")
	if name == "" {
		name = "message"
	}
	return filepath.Join(f.dir, name+".html")
}

// Send implements Transport.
func (f *FileTransport) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("mailer: create render dir: %w", err)
	}
	path := f.Path(msg.Key)
	if err := os.WriteFile(path, []byte(msg.HTML), 0o644); err != nil {
		return fmt.Errorf("mailer: write %s: %w", path, err)
	}
	f.logger.Printf("mailer: rendered %q to %s", msg.Subject, path)
	return nil
}
