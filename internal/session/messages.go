package session

import (
	"fmt"
	"time"
)

const (
	messageHelloFormat        = "🤖 Hello %s! I'm AutoMod! 🎉"
	messageRequestSpeakAndMod = "If you'd like to use my features, please invite me to speak and make me a Moderator. ✳️"
	messageRequestMod         = "If you'd like to use my features, please make me a Moderator. ✳️"
	messageRequestSpeak       = "If you'd like to hear music, please invite me to speak. 🎶"

	messageShareURLIntro  = "The share url for this room is:"
	messageShareURLFormat = "https://www.clubhouse.com/room/%s"
	messageUptimeFormat   = "This room has been running for %s."
	messageWelcomeFormat  = "Welcome %s! 🎉"
)

// A few regulars get their own greeting.
var customWelcomes = map[int64][]string{
	2350087:    {"Welcome Disco Doggie! 🎉"},
	1414736198: {"Tabi! Hello my love! 😍"},
	47107:      {"Welcome Ryan! 🎉", "Ryan, please don't choose violence today!"},
	2247221:    {"Welcome! 🎉", "First", "And furthermore, infinitesimal"},
}

// greetingLines builds the one-time join greeting, naming whatever
// privileges the session is still waiting on.
func greetingLines(s *Session) []string {
	lines := []string{fmt.Sprintf(messageHelloFormat, s.hostName)}
	switch {
	case s.requiresSpeaker && s.requiresModerator:
		lines = append(lines, messageRequestSpeakAndMod)
	case s.requiresModerator:
		lines = append(lines, messageRequestMod)
	case s.requiresSpeaker:
		lines = append(lines, messageRequestSpeak)
	}
	return lines
}

func welcomeLines(u Participant) []string {
	if custom, ok := customWelcomes[u.UserID]; ok {
		return custom
	}
	return []string{fmt.Sprintf(messageWelcomeFormat, u.Name)}
}

func shareURLLines(roomID string) []string {
	return []string{
		messageShareURLIntro,
		fmt.Sprintf(messageShareURLFormat, roomID),
	}
}

func uptimeLine(createdAt, now time.Time) string {
	running := now.Sub(createdAt).Truncate(time.Second)
	if running < 0 {
		running = 0
	}
	return fmt.Sprintf(messageUptimeFormat, running)
}
