package transport

import "context"

// GroupTarget addresses one chat group on the gateway.
type GroupTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

// SegmentKind discriminates message segments.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentImage SegmentKind = "image"
)

// Segment is one typed part of a rich message.
// Image holds a URL or a local file path.
type Segment struct {
	Kind  SegmentKind
	Text  string
	Image string
}

// Content is what a renderer produces for delivery: display text plus an
// ordered list of image references. It is transient and never persisted.
type Content struct {
	Text   string
	Images []string
}

// Segments flattens content into a combined rich message: one text segment
// followed by up to maxImages image segments (0 or less means no cap).
func (c Content) Segments(maxImages int) []Segment {
	segs := make([]Segment, 0, 1+len(c.Images))
	if c.Text != "" {
		segs = append(segs, Segment{Kind: SegmentText, Text: c.Text})
	}
	imgs := c.Images
	if maxImages > 0 && len(imgs) > maxImages {
		imgs = imgs[:maxImages]
	}
	for _, img := range imgs {
		if img == "" {
			continue
		}
		segs = append(segs, Segment{Kind: SegmentImage, Image: img})
	}
	return segs
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// Sender is the chat delivery primitive. Failures are transport-level and
// always recoverable by a later, independent delivery; implementations must
// not retry synchronously within one call.
type Sender interface {
	// SendText delivers a plain text message.
	SendText(ctx context.Context, to GroupTarget, text string, opt *SendOptions) error
	// SendSegments delivers one combined rich message.
	SendSegments(ctx context.Context, to GroupTarget, segs []Segment, opt *SendOptions) error
}

// Adapter is a full gateway: a Sender that also produces incoming updates.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
