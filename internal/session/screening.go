package session

import (
	"context"
	"log/slog"
)

// screenGuests runs the per-tick participant pass: welcome newcomers,
// invite eligible guests to speak, promote eligible speakers. Every action
// is recorded in its dedup set before the remote call, so repeated
// snapshots of the same room can never replay an action even when the
// remote call silently fails.
func (m *Manager) screenGuests(s *Session, users []Participant) {
	if s.roomType != RoomTypePublic {
		m.welcomeGuests(s, users)
	}
	m.inviteGuests(s, users)
	m.modGuests(s, users)
}

// welcomeGuests greets each arrival once. Participants already in the room
// at join time are never greeted; they were there before the bot.
func (m *Manager) welcomeGuests(s *Session, users []Participant) {
	selfID := m.client.UserID()
	for _, u := range users {
		if u.UserID == selfID {
			continue
		}
		s.mu.Lock()
		_, joined := s.presentAtJoin[u.UserID]
		_, done := s.welcomed[u.UserID]
		if joined || done {
			s.mu.Unlock()
			continue
		}
		s.welcomed[u.UserID] = struct{}{}
		s.mu.Unlock()

		_ = m.sendRoomChat(s, welcomeLines(u))
	}
}

// inviteGuests moves eligible audience members to the stage. In a policy
// club everyone qualifies; otherwise only the configured guest list does.
func (m *Manager) inviteGuests(s *Session, users []Participant) {
	selfID := m.client.UserID()
	blanket := s.inAutomodClub || s.inSocialClub
	for _, u := range users {
		if u.UserID == selfID {
			continue
		}
		s.mu.Lock()
		if _, done := s.screenedForSpeaker[u.UserID]; done {
			s.mu.Unlock()
			continue
		}
		s.screenedForSpeaker[u.UserID] = struct{}{}
		s.mu.Unlock()

		if !blanket && !m.cfg.IsListedGuest(u.UserID) {
			continue
		}
		if u.IsSpeaker || u.IsInvitedAsSpeaker {
			continue
		}
		if err := m.client.InviteSpeaker(context.Background(), s.roomID, u.UserID); err != nil {
			slog.Warn("speaker invite failed", "room_id", s.roomID, "user_id", u.UserID, "error", err)
		} else {
			slog.Info("invited to speak", "room_id", s.roomID, "user_id", u.UserID, "name", u.Name)
		}
	}
}

// modGuests promotes active speakers to moderator. In a social policy club
// every speaker qualifies; otherwise only the configured moderator list.
func (m *Manager) modGuests(s *Session, users []Participant) {
	selfID := m.client.UserID()
	for _, u := range users {
		if u.UserID == selfID {
			continue
		}
		s.mu.Lock()
		if _, done := s.screenedForModerator[u.UserID]; done {
			s.mu.Unlock()
			continue
		}
		s.screenedForModerator[u.UserID] = struct{}{}
		s.mu.Unlock()

		if !s.inSocialClub && !m.cfg.IsListedModerator(u.UserID) {
			continue
		}
		if !u.IsSpeaker || u.IsModerator {
			continue
		}
		if err := m.client.MakeModerator(context.Background(), s.roomID, u.UserID); err != nil {
			slog.Warn("moderator promotion failed", "room_id", s.roomID, "user_id", u.UserID, "error", err)
		} else {
			slog.Info("promoted to moderator", "room_id", s.roomID, "user_id", u.UserID, "name", u.Name)
		}
	}
}
