package router

// Reply texts. HTML parse mode.
const (
	textGreeting = "<b>Welcome!</b>\nYou are in. Once a day, at a random time, I will ask everyone " +
		"for a photo or video. Send yours within the window and it gets shared with the group.\n\n" +
		"Send /stop any time to leave."

	textAlreadyIn = "You are already registered. Wait for today's round!"

	textFarewell = "You are out. Send /start whenever you want back in."

	textNotRegistered = "You are not registered yet. Send /start to join."

	textDefault = "Send /start to join the daily round, or just wait for the next notification " +
		"and reply with your photo or video."

	textGroupHello = "<b>Hello!</b>\nI will share everyone's daily photos and videos here. " +
		"Members can join the round by messaging me /start in private."

	textBroadcastUsage = "Usage: /broadcast <message>"

	textBroadcastNothing = "Nothing staged. Use /broadcast <message> first."
)
