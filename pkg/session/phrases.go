package session

// Spoken phrases for recovery and termination. Failures reach the caller
// as short apologies, never raw error text.
const (
	phraseClarify    = "Sorry, I didn't catch that. Could you say that again?"
	phraseStillThere = "Are you still there?"
	phraseGoodbye    = "Goodbye."
	phraseApology    = "Sorry, something went wrong on my end. Could you say that again?"
	phraseFatal      = "Sorry, I'm having trouble with this call. Goodbye."
)
