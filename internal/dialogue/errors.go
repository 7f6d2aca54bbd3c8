package dialogue

// InputError rejects an answer. Notice is shown to the user; a Fatal error
// ends the session instead of re-asking.
type InputError struct {
	Notice string
	Fatal  bool
	Err    error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return "dialogue: invalid input: " + e.Err.Error()
	}
	return "dialogue: invalid input: " + e.Notice
}

func (e *InputError) Unwrap() error { return e.Err }

// sendError marks failures of the reply handle itself, after which no
// apology can be delivered either.
type sendError struct{ err error }

func (e *sendError) Error() string { return "dialogue: sending reply: " + e.err.Error() }

func (e *sendError) Unwrap() error { return e.err }
