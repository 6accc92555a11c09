package flow

import (
	"errors"
	"fmt"
)

// State is where the conversation currently is. Exactly one state is active,
// so the decision chain (satisfaction, consent, rephrase, candidates) can never
// show two prompts at once.
type State int

const (
	Idle State = iota
	AwaitingAnswer
	AwaitingSatisfaction
	AwaitingScholarConsent
	AwaitingRephraseConsent
	AwaitingRephraseText
	Downloading
	ShowingCandidates
	Embedding
)

var stateNames = [...]string{
	Idle:                    "idle",
	AwaitingAnswer:          "awaiting_answer",
	AwaitingSatisfaction:    "awaiting_satisfaction",
	AwaitingScholarConsent:  "awaiting_scholar_consent",
	AwaitingRephraseConsent: "awaiting_rephrase_consent",
	AwaitingRephraseText:    "awaiting_rephrase_text",
	Downloading:             "downloading",
	ShowingCandidates:       "showing_candidates",
	Embedding:               "embedding",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Busy reports whether a network operation owns the conversation.
func (s State) Busy() bool {
	return s == AwaitingAnswer || s == Downloading || s == Embedding
}

// Event drives a transition.
type Event int

const (
	EvSubmit Event = iota
	EvSearchScholar
	EvReset
	EvAnswered
	EvNoAnswer
	EvQueryFailed
	EvSatisfied
	EvDissatisfied
	EvConsentGiven
	EvConsentDeclined
	EvRephraseAccepted
	EvRephraseDeclined
	EvRephraseSubmitted
	EvDismiss
	EvDownloadFinished
	EvDownloadMore
	EvIngestStarted
	EvIngestFinished
)

var eventNames = [...]string{
	EvSubmit:            "submit",
	EvSearchScholar:     "search_scholar",
	EvReset:             "reset",
	EvAnswered:          "answered",
	EvNoAnswer:          "no_answer",
	EvQueryFailed:       "query_failed",
	EvSatisfied:         "satisfied",
	EvDissatisfied:      "dissatisfied",
	EvConsentGiven:      "consent_given",
	EvConsentDeclined:   "consent_declined",
	EvRephraseAccepted:  "rephrase_accepted",
	EvRephraseDeclined:  "rephrase_declined",
	EvRephraseSubmitted: "rephrase_submitted",
	EvDismiss:           "dismiss",
	EvDownloadFinished:  "download_finished",
	EvDownloadMore:      "download_more",
	EvIngestStarted:     "ingest_started",
	EvIngestFinished:    "ingest_finished",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var (
	// ErrBusy is returned when an operation is attempted while a network
	// operation owns the conversation.
	ErrBusy = errors.New("conversation is busy")
	// ErrInvalidTransition is returned when an operation does not apply to
	// the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrEmptySelection is returned by Ingest when nothing is selected.
	ErrEmptySelection = errors.New("no candidates selected")
	// ErrUnknownCandidate is returned when toggling a name not in the list.
	ErrUnknownCandidate = errors.New("not a downloaded candidate")
)

var transitions = map[State]map[Event]State{
	AwaitingAnswer: {
		EvAnswered:    AwaitingSatisfaction,
		EvNoAnswer:    AwaitingScholarConsent,
		EvQueryFailed: Idle,
	},
	AwaitingSatisfaction: {
		EvSatisfied:    Idle,
		EvDissatisfied: AwaitingScholarConsent,
	},
	AwaitingScholarConsent: {
		EvConsentGiven:    AwaitingRephraseConsent,
		EvConsentDeclined: Idle,
	},
	AwaitingRephraseConsent: {
		EvRephraseAccepted: AwaitingRephraseText,
		EvRephraseDeclined: Downloading,
	},
	AwaitingRephraseText: {
		EvRephraseSubmitted: Downloading,
		EvDismiss:           Idle,
	},
	Downloading: {
		EvDownloadFinished: ShowingCandidates,
	},
	ShowingCandidates: {
		EvDownloadMore:  Downloading,
		EvIngestStarted: Embedding,
		EvDismiss:       Idle,
	},
	Embedding: {
		EvIngestFinished: Idle,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	switch e {
	case EvReset:
		return Idle, nil
	case EvSubmit:
		if s.Busy() {
			return s, ErrBusy
		}
		return AwaitingAnswer, nil
	case EvSearchScholar:
		if s.Busy() {
			return s, ErrBusy
		}
		return Downloading, nil
	}

	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	if s.Busy() {
		return s, ErrBusy
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
