package destinations

import (
	"strconv"
	"strings"
)

// MakeThreadedIdentifier joins a chat id and an optional thread id
// into the combined identifier string used for threaded-chat
// destinations and chat keys. threadID == nil means "General"/no
// thread scoping; the identifier is then just chatID.
func MakeThreadedIdentifier(chatID string, threadID *int) string {
	if threadID == nil {
		return chatID
	}
	return chatID + ":" + strconv.Itoa(*threadID)
}

// ParseThreadedIdentifier splits a combined identifier back into
// (chatID, threadID). It splits on the rightmost ":" so a chat id
// that itself contains no colon (the common case, including negative
// group chat ids) is never mis-split. A non-numeric suffix after the
// rightmost ":" is treated as part of the chat id, not a thread id.
func ParseThreadedIdentifier(identifier string) (chatID string, threadID *int) {
	i := strings.LastIndex(identifier, ":")
	if i < 0 {
		return identifier, nil
	}
	chatPart, threadPart := identifier[:i], identifier[i+1:]
	n, err := strconv.Atoi(threadPart)
	if err != nil {
		return identifier, nil
	}
	return chatPart, &n
}
