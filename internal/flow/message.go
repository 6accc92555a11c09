package flow

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Answer is a structured bot reply.
type Answer struct {
	Answer string
	Source string
}

// Message is an immutable entry in the conversation log. Bot replies from the
// corpus carry Answer; everything else is plain Text.
type Message struct {
	ID        string
	Sender    Sender
	Text      string
	Answer    *Answer
	Timestamp time.Time
	// Model is set on bot messages produced by a model.
	Model string
}

// Content returns the text to display for m.
func (m Message) Content() string {
	if m.Answer != nil {
		return m.Answer.Answer
	}
	return m.Text
}
