package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/deoncarlette/AutoMod/internal/room"
)

// ErrMalformedSnapshot marks a remote response missing the fields a
// session needs. Refresh ticks treat it exactly like a transport failure.
var ErrMalformedSnapshot = errors.New("malformed room snapshot")

const speakerTimeLayout = "2006-01-02T15:04:05.999999-07:00"

// Participant is one room member as seen on a single poll. Never
// persisted; re-derived from every snapshot.
type Participant struct {
	UserID             int64
	Name               string
	IsSpeaker          bool
	IsInvitedAsSpeaker bool
	IsModerator        bool
}

// Snapshot is the session-relevant reading of one channel response.
type Snapshot struct {
	RoomID              string
	Type                RoomType
	CreatorID           int64
	HostName            string
	ClubID              int64
	ChatEnabled         bool
	AutoSpeakerApproval bool
	AudioToken          string
	CreatedAt           time.Time
	Participants        []Participant
	Self                Participant
	SelfFound           bool
}

func parseSnapshot(roomID string, ch *room.Channel, selfID int64) (*Snapshot, error) {
	if ch == nil || !ch.Success {
		return nil, ErrMalformedSnapshot
	}
	if len(ch.Users) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrMalformedSnapshot)
	}

	snap := &Snapshot{
		RoomID:              roomID,
		Type:                deriveRoomType(ch),
		CreatorID:           ch.CreatorUserProfileID,
		ChatEnabled:         ch.IsChatEnabled,
		AutoSpeakerApproval: ch.IsAutoSpeakerApproval,
		AudioToken:          ch.Token,
		CreatedAt:           deriveCreatedAt(ch),
	}
	if ch.Club != nil {
		snap.ClubID = ch.Club.ClubID
	}

	snap.Participants = make([]Participant, 0, len(ch.Users))
	for _, u := range ch.Users {
		p := Participant{
			UserID:             u.UserID,
			Name:               displayName(u),
			IsSpeaker:          u.IsSpeaker,
			IsInvitedAsSpeaker: u.IsInvitedAsSpeaker,
			IsModerator:        u.IsModerator,
		}
		snap.Participants = append(snap.Participants, p)
		if u.UserID == selfID {
			snap.Self = p
			snap.SelfFound = true
		}
	}
	snap.HostName = displayName(hostOf(ch))
	return snap, nil
}

func deriveRoomType(ch *room.Channel) RoomType {
	switch {
	case ch.IsPrivate:
		return RoomTypePrivate
	case ch.IsSocialMode:
		return RoomTypeSocial
	default:
		return RoomTypePublic
	}
}

// hostOf resolves the creator's participant entry, falling back to the
// first listed participant when the creator is not in the room.
func hostOf(ch *room.Channel) room.User {
	for _, u := range ch.Users {
		if u.UserID == ch.CreatorUserProfileID {
			return u
		}
	}
	return ch.Users[0]
}

func displayName(u room.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Name
}

// deriveCreatedAt estimates when the room started: the earlier of the
// host's and the first non-moderator speaker's stage-join times. When
// neither time parses the current time is the best available anchor.
func deriveCreatedAt(ch *room.Channel) time.Time {
	candidates := []room.User{hostOf(ch)}
	for _, u := range ch.Users {
		if !u.IsModerator {
			candidates = append(candidates, u)
			break
		}
	}

	var earliest time.Time
	for _, u := range candidates {
		if u.TimeJoinedAsSpeaker == "" {
			continue
		}
		ts, err := time.Parse(speakerTimeLayout, u.TimeJoinedAsSpeaker)
		if err != nil {
			continue
		}
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
	}
	if earliest.IsZero() {
		return time.Now()
	}
	return earliest
}
