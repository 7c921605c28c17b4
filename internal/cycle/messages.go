package cycle

// Participant-facing texts, HTML parse mode. Kept as constants so wording
// changes are code changes, mirroring how the round logic depends on them.
const (
	TextRoundOpen = "<b>Time to share!</b>\nThe daily round is open. " +
		"Send me one photo or video within the next %s and it will be shared with your groups."

	TextRoundReminder = "<b>Time is running out!</b>\nOnly %s left to send your photo or video for today's round."

	TextRoundClosed = "<b>The round is closed.</b>\nThanks to everyone who posted. See you tomorrow!"

	TextMediaAccepted = "Got it! Your submission is in for today's round."

	TextMediaRejected = "There is no open round right now. Wait for today's notification and try again."
)
