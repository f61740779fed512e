package room

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnreachable marks any remote failure the session should treat as
// "room unreachable on this poll": transport errors, non-2xx statuses and
// success=false bodies all collapse into it.
var ErrUnreachable = errors.New("channel service unreachable")

// User is one participant entry as the channel API returns it.
type User struct {
	UserID              int64  `json:"user_id"`
	Name                string `json:"name"`
	FirstName           string `json:"first_name"`
	IsSpeaker           bool   `json:"is_speaker"`
	IsModerator         bool   `json:"is_moderator"`
	IsInvitedAsSpeaker  bool   `json:"is_invited_as_speaker"`
	TimeJoinedAsSpeaker string `json:"time_joined_as_speaker"`
}

type Club struct {
	ClubID int64  `json:"club_id"`
	Name   string `json:"name"`
}

// Channel is the shared shape of join_channel and get_channel responses.
type Channel struct {
	Success                bool   `json:"success"`
	Channel                string `json:"channel"`
	CreatorUserProfileID   int64  `json:"creator_user_profile_id"`
	IsPrivate              bool   `json:"is_private"`
	IsSocialMode           bool   `json:"is_social_mode"`
	IsChatEnabled          bool   `json:"is_chat_enabled"`
	IsAutoSpeakerApproval  bool   `json:"is_automatic_speaker_approval_available"`
	Token                  string `json:"token"`
	Club                   *Club  `json:"club"`
	Users                  []User `json:"users"`
}

// Feed is kept raw; the bot only archives it, it never interprets entries.
type Feed struct {
	Success bool            `json:"success"`
	Items   json.RawMessage `json:"items"`
	Raw     []byte          `json:"-"`
}

// Client is the capability surface the session machine needs from the
// remote channel service. Implementations live under external/room; tests
// substitute their own.
type Client interface {
	JoinChannel(ctx context.Context, channel string) (*Channel, error)
	GetChannel(ctx context.Context, channel string) (*Channel, error)
	AudienceReply(ctx context.Context, channel string) error
	AcceptSpeakerInvite(ctx context.Context, channel string, userID int64) error
	InviteSpeaker(ctx context.Context, channel string, userID int64) error
	MakeModerator(ctx context.Context, channel string, userID int64) error
	SendMessage(ctx context.Context, channel, message string) error
	ActivePing(ctx context.Context, channel string) error
	LeaveChannel(ctx context.Context, channel string) error
	GetFeed(ctx context.Context) (*Feed, error)

	// UserID is the bot's own id, needed to find itself in snapshots.
	UserID() int64
}
