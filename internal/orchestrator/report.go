package orchestrator

import "notepub/internal/segment"

// State is a step of the editor state machine.
type State string

// Editor states in the order a run can pass through them.
const (
	StateInit             State = "Init"
	StateAuthenticated    State = "Authenticated"
	StateSessionOpened    State = "SessionOpened"
	StateHeaderImageSet   State = "HeaderImageSet"
	StateTitleSet         State = "TitleSet"
	StateExistingDraft    State = "ExistingDraft"
	StateBodyCleared      State = "BodyCleared"
	StatePerSegment       State = "PerSegment"
	StateHashtagsSet      State = "HashtagsSet"
	StateSaveRequested    State = "SaveRequested"
	StateSaveConfirmed    State = "SaveConfirmed"
	StateSaveTimedOut     State = "SaveTimedOut"
	StatePublishRequested State = "PublishRequested"
	StatePublished        State = "Published"
)

// Outcome records a segment that was not inserted. Order is -1 for the
// header image.
type Outcome struct {
	Err   error
	Path  string
	Kind  segment.Kind
	Order int
}

// Report describes one editor session.
type Report struct {
	URL           string
	EditorURL     string
	ArticleKey    string
	States        []State
	Hashtags      []string
	Skipped       []Outcome
	Stalled       []Outcome
	Inserted      int
	SaveConfirmed bool
	Published     bool
}

func (r *Report) enter(s State) {
	r.States = append(r.States, s)
}

// Reached reports whether the run entered s.
func (r *Report) Reached(s State) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}

	return false
}
