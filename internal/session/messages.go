package session

import (
	"github.com/mattjoyce/facegate/internal/protocol"
)

// Client → gateway message types.
const (
	TypeRecognize = "RECOGNIZE"
	TypeChatQuery = "CHAT_QUERY"
)

// Gateway → client message types.
const (
	TypeRecognitionResult = "RECOGNITION_RESULT"
	TypeChatResponse      = "CHAT_RESPONSE"
	TypeError             = "ERROR"
)

const thinkingText = "Thinking..."

// ClientMessage is any frame a browser sends. Only the fields for Type are set.
type ClientMessage struct {
	Type    string `json:"type"`
	Image   string `json:"image,omitempty"`
	Message string `json:"message,omitempty"`
}

// RecognitionResult carries faces in worker order; an empty result is "faces": [].
type RecognitionResult struct {
	Type  string               `json:"type"`
	Faces []protocol.FaceMatch `json:"faces"`
}

// ChatResponse is either the interim loading notice or the final answer.
type ChatResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	SourceCount *int   `json:"sourceCount,omitempty"`
	IsLoading   *bool  `json:"isLoading,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func recognitionResult(faces []protocol.FaceMatch) RecognitionResult {
	if faces == nil {
		faces = []protocol.FaceMatch{}
	}
	return RecognitionResult{Type: TypeRecognitionResult, Faces: faces}
}

func chatThinking() ChatResponse {
	loading := true
	return ChatResponse{Type: TypeChatResponse, Message: thinkingText, IsLoading: &loading}
}

func chatAnswer(a protocol.ChatAnswer) ChatResponse {
	loading := false
	count := a.SourceCount
	return ChatResponse{Type: TypeChatResponse, Message: a.Text, SourceCount: &count, IsLoading: &loading}
}

func errorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}

// failureText maps an invocation failure to the text shown to the client.
func failureText(kind protocol.Kind, err error) string {
	chat := kind == protocol.ChatQuery
	switch protocol.KindOf(err) {
	case protocol.WorkerUnavailable:
		if chat {
			return "Chat service is unavailable"
		}
		return "Recognition service is unavailable"
	case protocol.ParseError:
		if chat {
			return "Error parsing chat response"
		}
		return "Error parsing recognition result"
	default:
		if chat {
			return "Error processing chat query"
		}
		return "Error processing recognition request"
	}
}
