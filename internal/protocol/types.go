package protocol

import (
	"regexp"
	"time"
)

// Kind identifies which inference operation an invocation performs.
type Kind string

const (
	CheckFace    Kind = "check_face"
	RegisterFace Kind = "register_face"
	Recognize    Kind = "recognize"
	ChatQuery    Kind = "chat_query"
)

// Kinds lists every invocation kind in a stable order.
var Kinds = []Kind{CheckFace, RegisterFace, Recognize, ChatQuery}

// Valid reports whether k is a known invocation kind.
func (k Kind) Valid() bool {
	switch k {
	case CheckFace, RegisterFace, Recognize, ChatQuery:
		return true
	}
	return false
}

// Request is a single invocation. It is consumed by exactly one Invoke call.
type Request struct {
	Kind Kind
	// Name is the registration target; only used by RegisterFace.
	Name string
	// Payload is written verbatim to the worker's stdin: base64 image text
	// for the face kinds, UTF-8 query text for ChatQuery.
	Payload []byte
	// Timeout overrides the configured bound for this kind when positive.
	Timeout time.Duration
}

// Result is the successful outcome of an invocation. Failures are reported
// as *Failure errors instead.
type Result interface {
	Kind() Kind
}

// FaceCheck reports whether a face was found in the image.
type FaceCheck struct {
	Detected bool
}

func (FaceCheck) Kind() Kind { return CheckFace }

// Registration is the worker's acknowledgement of a stored face.
type Registration struct {
	ID        int64
	Message   string
	CreatedAt time.Time
}

func (Registration) Kind() Kind { return RegisterFace }

// BoundingBox is a face rectangle in image pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FaceMatch is one detected face with its best registry match.
type FaceMatch struct {
	BoundingBox
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Recognition holds detected faces in the order the worker emitted them.
type Recognition struct {
	Faces []FaceMatch
}

func (Recognition) Kind() Kind { return Recognize }

// ChatAnswer is a retrieval-augmented answer.
type ChatAnswer struct {
	Text        string
	SourceCount int
}

func (ChatAnswer) Kind() Kind { return ChatQuery }

var dataURLPrefix = regexp.MustCompile(`^data:image/\w+;base64,`)

// StripDataURL removes a leading "data:image/<fmt>;base64," prefix, leaving
// the bare base64 text workers expect on stdin.
func StripDataURL(image string) string {
	return dataURLPrefix.ReplaceAllString(image, "")
}
