package session

import (
	"context"
	"log/slog"
	"time"
)

type privilege string

const (
	privilegeSpeaker   privilege = "speaker"
	privilegeModerator privilege = "moderator"
)

// acquirePrivilege runs the bounded wait for one privilege. Speaker status
// is requested once up front; moderator status is only ever granted by a
// human, so that wait issues no request at all. Already holding the
// privilege is a no-op success.
func (m *Manager) acquirePrivilege(s *Session, target privilege) bool {
	if m.holdsPrivilege(s, target) {
		return true
	}

	if target == privilegeSpeaker {
		if err := m.client.AudienceReply(context.Background(), s.roomID); err != nil {
			slog.Warn("speak request failed", "room_id", s.roomID, "error", err)
		}
	}

	slog.Info("waiting for privilege", "room_id", s.roomID, "privilege", string(target))
	ok := s.pollUntil(s.opts.PollInterval, s.opts.PrivilegeTimeout, func() bool {
		return m.checkPrivilege(s, target)
	})
	if !ok {
		slog.Warn("privilege wait timed out", "room_id", s.roomID, "privilege", string(target))
		return false
	}

	switch target {
	case privilegeSpeaker:
		s.grantedSpeaker.Store(true)
		s.activeSpeaker.Store(true)
		s.waitingSpeaker.Store(false)
	case privilegeModerator:
		s.grantedModerator.Store(true)
		s.activeModerator.Store(true)
		s.waitingModerator.Store(false)
	}
	slog.Info("privilege granted", "room_id", s.roomID, "privilege", string(target))
	return true
}

func (m *Manager) holdsPrivilege(s *Session, target privilege) bool {
	if target == privilegeSpeaker {
		return s.activeSpeaker.Load()
	}
	return s.activeModerator.Load()
}

// checkPrivilege re-reads the bot's own flags from a fresh snapshot. For a
// speaker wait it first accepts any pending stage invite, since the grant
// arrives as an invitation.
func (m *Manager) checkPrivilege(s *Session, target privilege) bool {
	ctx := context.Background()
	if target == privilegeSpeaker {
		_ = m.client.AcceptSpeakerInvite(ctx, s.roomID, m.client.UserID())
	}
	chInfo, err := m.client.GetChannel(ctx, s.roomID)
	if err != nil {
		return false
	}
	snap, err := parseSnapshot(s.roomID, chInfo, m.client.UserID())
	if err != nil || !snap.SelfFound {
		return false
	}
	if target == privilegeSpeaker {
		return snap.Self.IsSpeaker
	}
	return snap.Self.IsModerator
}

// pollUntil runs check every interval until it reports true or timeout
// elapses. The first check happens after one full interval. Success is
// signalled through a one-shot event so the waiter returns immediately
// instead of at the next timeout inspection; termination interrupts the
// wait the same way.
func (s *Session) pollUntil(interval, timeout time.Duration, check func() bool) bool {
	granted := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.quit:
				return
			case <-ticker.C:
				if check() {
					close(granted)
					return
				}
			}
		}
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-granted:
		return true
	case <-s.quit:
		return false
	case <-deadline.C:
		return false
	}
}
