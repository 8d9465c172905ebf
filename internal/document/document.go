// Package document owns the editor's single text buffer and the file it is
// backed by. Open and save go through a FileSystem and a fixed Codec; failures
// are reported as *IOError and never change the current document.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Document is the in-memory buffer plus its optional backing path.
// An empty Path means the buffer has never been saved or opened.
type Document struct {
	Text string
	Path string
}

// Saved reports whether the document has a backing file
func (d Document) Saved() bool {
	return d.Path != ""
}

// IOError describes a failed open or save
type IOError struct {
	Op   string // "open" or "save"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("could not %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// FileSystem is the storage the controller reads and writes
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// OSFileSystem reads and writes the host filesystem. Writes truncate and
// overwrite in place.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFileSystem) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

// PathPrompter asks the user where to save. ok is false when the user cancelled.
type PathPrompter interface {
	PromptSavePath(ctx context.Context, suggested string) (path string, ok bool, err error)
}

// Notifier shows an error to the user
type Notifier interface {
	NotifyError(title string, err error)
}

// Controller mediates open and save for the current document
type Controller struct {
	fs       FileSystem
	codec    *Codec
	prompter PathPrompter
	notifier Notifier
	logger   *slog.Logger

	doc Document
}

// ControllerOptions configures a Controller
type ControllerOptions struct {
	FS       FileSystem
	Codec    *Codec
	Prompter PathPrompter
	Notifier Notifier
	Logger   *slog.Logger
}

// NewController creates a controller holding an empty, unsaved document
func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		fs:       opts.FS,
		codec:    opts.Codec,
		prompter: opts.Prompter,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if c.fs == nil {
		c.fs = OSFileSystem{}
	}
	if c.codec == nil {
		c.codec, _ = NewCodec("utf-8")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Current returns a copy of the current document
func (c *Controller) Current() Document {
	return c.doc
}

// SetText replaces the buffer contents after user edits
func (c *Controller) SetText(text string) {
	c.doc.Text = text
}

// Title returns the window title for the current document
func (c *Controller) Title() string {
	if c.doc.Path == "" {
		return "runpad - untitled"
	}
	return "runpad - " + c.doc.Path
}

// Open loads path into the current document. On failure the current
// document is left untouched and an *IOError is returned.
func (c *Controller) Open(path string) (*Document, error) {
	data, err := c.fs.ReadFile(path)
	if err != nil {
		c.logger.Warn("open failed", "path", path, "error", err)
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	text, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Warn("decode failed", "path", path, "encoding", c.codec.Name(), "error", err)
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}

	c.doc = Document{Text: text, Path: path}
	c.logger.Info("opened document", "path", path, "bytes", len(data))
	doc := c.doc
	return &doc, nil
}

// Save writes the buffer to its path, asking for one first when the
// document was never saved.
func (c *Controller) Save(ctx context.Context) bool {
	if c.doc.Path == "" {
		return c.SaveAs(ctx)
	}
	if err := c.write(c.doc.Path); err != nil {
		c.notify("Save failed", err)
		return false
	}
	return true
}

// SaveAs prompts for a destination and saves there. A cancelled prompt
// returns false and keeps the current path.
func (c *Controller) SaveAs(ctx context.Context) bool {
	if c.prompter == nil {
		c.notify("Save failed", &IOError{Op: "save", Err: errors.New("no save path available")})
		return false
	}
	path, ok, err := c.prompter.PromptSavePath(ctx, c.doc.Path)
	if err != nil {
		c.notify("Save failed", &IOError{Op: "save", Path: path, Err: err})
		return false
	}
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		c.logger.Debug("save as cancelled")
		return false
	}
	return c.SaveTo(path)
}

// SaveTo saves the buffer to path and adopts it as the document path. The
// path is only adopted when the write succeeded.
func (c *Controller) SaveTo(path string) bool {
	if err := c.write(path); err != nil {
		c.notify("Save failed", err)
		return false
	}
	c.doc.Path = path
	return true
}

func (c *Controller) write(path string) error {
	data, err := c.codec.Encode(c.doc.Text)
	if err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	if err := c.fs.WriteFile(path, data); err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	c.logger.Info("saved document", "path", path, "bytes", len(data))
	return nil
}

func (c *Controller) notify(title string, err error) {
	c.logger.Warn(strings.ToLower(title), "error", err)
	if c.notifier != nil {
		c.notifier.NotifyError(title, err)
	}
}
