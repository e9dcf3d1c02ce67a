package protocol

// Accumulator is the transient streaming state for one conversation. The
// buffer only grows between reset points: a terminal frame, an error frame,
// or a fresh send.
type Accumulator struct {
	Buffer          string
	ActiveMessageID string
}

// Reset returns an empty accumulator.
func (a Accumulator) Reset() Accumulator {
	return Accumulator{}
}

// CompleteEvent is delivered to the completion callback when a terminal
// frame arrives.
type CompleteEvent struct {
	MessageID   string
	ResponseID  string
	Content     string
	Complete    bool
	NeedsInfo   string
	Suggestions []string
}

// Callbacks receive the decoded results of folding frames. Any callback may
// be nil.
type Callbacks struct {
	// OnChunk receives the full buffered content so far and the message id,
	// which may still be empty if no frame has supplied one.
	OnChunk func(buffered, messageID string)

	// OnComplete receives the terminal event for the current turn.
	OnComplete func(ev CompleteEvent)

	// OnEvent receives out-of-band frames (idle warning, session end).
	OnEvent func(ev OutOfBand)

	// OnError receives server-declared errors.
	OnError func(err error)
}

// Apply folds one decoded frame into the accumulator and fires the matching
// callback. It is a pure function of its inputs; the returned accumulator
// replaces the one passed in.
func Apply(f Frame, acc Accumulator, cb Callbacks) Accumulator {
	switch fr := f.(type) {
	case Delta:
		acc.Buffer += fr.Chunk
		if fr.MessageID != "" {
			acc.ActiveMessageID = fr.MessageID
		}
		if cb.OnChunk != nil {
			cb.OnChunk(acc.Buffer, acc.ActiveMessageID)
		}
		return acc

	case Terminal:
		// The buffered content is authoritative; the terminal payload's
		// content field is a fallback for turns that arrive fully formed.
		content := acc.Buffer
		if content == "" {
			content = fr.Content
		}
		messageID := fr.MessageID
		if messageID == "" {
			messageID = acc.ActiveMessageID
		}
		if cb.OnComplete != nil {
			cb.OnComplete(CompleteEvent{
				MessageID:   messageID,
				ResponseID:  fr.ResponseID,
				Content:     content,
				Complete:    fr.Complete,
				NeedsInfo:   string(fr.NeedsInfo),
				Suggestions: fr.Suggestions,
			})
		}
		return acc.Reset()

	case OutOfBand:
		if cb.OnEvent != nil {
			cb.OnEvent(fr)
		}
		return acc

	case ServerError:
		if cb.OnError != nil {
			cb.OnError(&fr)
		}
		return acc.Reset()
	}

	return acc
}
