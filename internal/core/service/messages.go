package service

import "fmt"

// User-facing replies. Internal error detail never goes into these.

func mention(userID string) string {
	return "<@" + userID + ">"
}

func welcomePrompt(memberID, keyword string) string {
	return fmt.Sprintf("Welcome %s! Type `%s` in this channel to unlock the rest of the server.", mention(memberID), keyword)
}

func verifiedReply(memberID string) string {
	return fmt.Sprintf("%s you are now verified. Welcome aboard!", mention(memberID))
}

func notNeededReply(memberID string) string {
	return fmt.Sprintf("%s you are already verified, nothing to do.", mention(memberID))
}

func failureReply(memberID string) string {
	return fmt.Sprintf("%s something went wrong while verifying you. Please contact an administrator.", mention(memberID))
}
